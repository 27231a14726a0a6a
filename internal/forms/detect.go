package forms

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/codedbyjessica/ga4audit/internal/config"
)

// AutoDetect synthesizes a minimal FormConfig by scanning the page's first
// <form> element. Best effort fallback for pages with no configured form;
// the resulting outcome must be flagged as auto detected in reporting.
func (t *Tester) AutoDetect(ctx context.Context, page string) (*config.FormConfig, error) {
	count, err := t.driver.Count(ctx, "form")
	if err != nil {
		return nil, fmt.Errorf("failed to probe for forms: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("no <form> element on page %q", page)
	}

	markup, err := t.driver.OuterHTML(ctx, "form")
	if err != nil {
		return nil, fmt.Errorf("failed to read form markup: %w", err)
	}

	form, err := SynthesizeFormConfig(page, markup)
	if err != nil {
		return nil, err
	}

	t.logger.Warn("No configured form matched; using auto detected fallback.",
		zap.String("page", page),
		zap.Int("detected_fields", len(form.Fields)),
	)
	return form, nil
}

// SynthesizeFormConfig parses form markup and builds a FormConfig from its
// required marked inputs. Only field types the tester can drive are kept.
func SynthesizeFormConfig(page, markup string) (*config.FormConfig, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse form markup: %w", err)
	}

	form := &config.FormConfig{
		Page:           page,
		FormSelector:   "form",
		SubmitSelector: `form button[type="submit"], form input[type="submit"]`,
	}

	seen := make(map[string]bool)
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.Data {
		case "input":
			fieldFromInput(n, form, seen)
		case "select":
			fieldFromSelect(n, form, seen)
		case "textarea":
			name := attr(n, "name")
			if name == "" || seen[name] {
				return
			}
			seen[name] = true
			form.Fields = append(form.Fields, config.FormFieldConfig{
				Name:     name,
				Type:     config.FieldText,
				Selector: fmt.Sprintf(`form [name="%s"]`, name),
				Required: hasAttr(n, "required"),
			})
		}
	})

	if len(form.Fields) == 0 {
		return nil, fmt.Errorf("auto detection found no usable fields on %q", page)
	}
	return form, nil
}

func fieldFromInput(n *html.Node, form *config.FormConfig, seen map[string]bool) {
	name := attr(n, "name")
	if name == "" || seen[name] {
		return
	}

	inputType := strings.ToLower(attr(n, "type"))
	var fieldType string
	switch inputType {
	case "", "text":
		fieldType = config.FieldText
	case "email":
		fieldType = config.FieldEmail
	case "tel":
		fieldType = config.FieldTel
	case "radio":
		fieldType = config.FieldRadio
	case "checkbox":
		fieldType = config.FieldCheckbox
	default:
		// submit, hidden, file and friends are not testable fields.
		return
	}

	seen[name] = true
	field := config.FormFieldConfig{
		Name:     name,
		Type:     fieldType,
		Selector: fmt.Sprintf(`form [name="%s"]`, name),
		Required: hasAttr(n, "required"),
	}
	if fieldType == config.FieldRadio {
		if v := attr(n, "value"); v != "" {
			field.Options = []string{v}
			field.TestValues.Valid = v
		}
	}
	form.Fields = append(form.Fields, field)
}

func fieldFromSelect(n *html.Node, form *config.FormConfig, seen map[string]bool) {
	name := attr(n, "name")
	if name == "" || seen[name] {
		return
	}
	seen[name] = true

	field := config.FormFieldConfig{
		Name:     name,
		Type:     config.FieldSelect,
		Selector: fmt.Sprintf(`form [name="%s"]`, name),
		Required: hasAttr(n, "required"),
	}
	walk(n, func(opt *html.Node) {
		if opt.Type == html.ElementNode && opt.Data == "option" {
			if v := attr(opt, "value"); v != "" {
				field.Options = append(field.Options, v)
			}
		}
	})
	if len(field.Options) > 0 {
		// First non placeholder option doubles as the valid test value.
		field.TestValues.Valid = field.Options[0]
	}
	form.Fields = append(form.Fields, field)
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
