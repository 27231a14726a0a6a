package forms

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/codedbyjessica/ga4audit/internal/config"
)

// Driver is the slice of the browser session the form tester needs.
type Driver interface {
	Click(ctx context.Context, selector string) error
	Count(ctx context.Context, selector string) (int, error)
	SetValue(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Blur(ctx context.Context, selector string) error
	Visible(ctx context.Context, selector string) (bool, error)
	ContainsText(ctx context.Context, text string) (bool, error)
	FieldValue(ctx context.Context, selector string) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	CurrentPath(ctx context.Context) (string, error)
}

// fillField drives one field according to its type, using the scenario's
// chosen value. Returns the value that was set so conditional dependencies
// can be resolved without another DOM round trip.
func (t *Tester) fillField(ctx context.Context, field *config.FormFieldConfig, value string) (string, error) {
	switch field.Type {
	case config.FieldRadio:
		if value == "" {
			// No selection to make; radios cannot be set to empty.
			return "", nil
		}
		selector := radioOptionSelector(field.Selector, value)
		if err := t.driver.Click(ctx, selector); err != nil {
			return "", fmt.Errorf("failed to select radio option %q: %w", value, err)
		}
		return value, nil

	case config.FieldCheckbox:
		checked := isTruthy(value)
		if err := t.driver.SetChecked(ctx, field.Selector, checked); err != nil {
			return "", fmt.Errorf("failed to toggle checkbox: %w", err)
		}
		if checked {
			return "true", nil
		}
		return "", nil

	case config.FieldSelect:
		if err := t.driver.SetValue(ctx, field.Selector, value); err != nil {
			return "", fmt.Errorf("failed to choose select option %q: %w", value, err)
		}
		return value, nil

	case config.FieldText, config.FieldEmail, config.FieldTel:
		if err := t.driver.SetValue(ctx, field.Selector, value); err != nil {
			return "", fmt.Errorf("failed to set value: %w", err)
		}
		return value, nil
	}
	return "", fmt.Errorf("unsupported field type %q", field.Type)
}

// conditionMet resolves a conditional clause against the values set so far in
// this scenario, falling back to the live DOM for fields the scenario has not
// touched.
func (t *Tester) conditionMet(ctx context.Context, form *config.FormConfig, cond *config.Conditional, set map[string]string) bool {
	if cond == nil {
		return true
	}

	if current, ok := set[cond.DependsOn]; ok {
		return current == cond.ShowWhen
	}

	dep, ok := form.Field(cond.DependsOn)
	if !ok {
		return false
	}
	current, err := t.driver.FieldValue(ctx, dep.Selector)
	if err != nil {
		t.logger.Debug("Could not resolve conditional dependency; treating field as hidden.",
			zap.String("depends_on", cond.DependsOn), zap.Error(err))
		return false
	}
	return current == cond.ShowWhen
}

// radioOptionSelector narrows a radio group selector to one option value.
func radioOptionSelector(groupSelector, value string) string {
	return fmt.Sprintf(`%s[value="%s"]`, groupSelector, value)
}

func isTruthy(value string) bool {
	switch strings.ToLower(value) {
	case "", "false", "0", "no", "off":
		return false
	}
	return true
}
