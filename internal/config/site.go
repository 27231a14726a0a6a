package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Field types the form tester knows how to drive.
const (
	FieldRadio    = "radio"
	FieldCheckbox = "checkbox"
	FieldText     = "text"
	FieldEmail    = "email"
	FieldTel      = "tel"
	FieldSelect   = "select"
)

// SiteConfig carries everything specific to one target site: selectors that
// only exist there, declarative hook step lists, and its form definitions.
type SiteConfig struct {
	Name string `mapstructure:"name" yaml:"name"`

	// CookieBannerSelectors is tried in order when dismissing consent
	// banners. All of them being absent is not an error.
	CookieBannerSelectors []string `mapstructure:"cookie_banner_selectors" yaml:"cookie_banner_selectors"`

	// ExitModalSelector, when set, is the element whose appearance fires the
	// exit_modal analytics event.
	ExitModalSelector string `mapstructure:"exit_modal_selector" yaml:"exit_modal_selector"`

	// Hooks are declarative step lists run at fixed points of the audit:
	// "pre_test", "post_refresh" and "pre_form". Custom Go callbacks are
	// registered in code, not here.
	Hooks map[string][]StepConfig `mapstructure:"hooks" yaml:"hooks"`

	Forms []FormConfig `mapstructure:"forms" yaml:"forms"`
}

// StepConfig is the serializable form of an action step. The actions package
// converts these into its tagged Step variants.
type StepConfig struct {
	Kind     string `mapstructure:"kind" yaml:"kind"`
	Selector string `mapstructure:"selector" yaml:"selector"`
	Text     string `mapstructure:"text" yaml:"text"`
	WaitMs   int    `mapstructure:"wait_ms" yaml:"wait_ms"`
	Required bool   `mapstructure:"required" yaml:"required"`
}

// FormConfig describes one form under test.
type FormConfig struct {
	// Page is a path substring; the form applies when the current page path
	// contains it.
	Page string `mapstructure:"page" yaml:"page"`

	FormSelector   string `mapstructure:"form_selector" yaml:"form_selector"`
	SubmitSelector string `mapstructure:"submit_selector" yaml:"submit_selector"`

	// Fields are exercised in declaration order.
	Fields []FormFieldConfig `mapstructure:"fields" yaml:"fields"`

	// ExpectedEmptyErrors are the selectors that must ALL be visible after
	// submitting the form with every field empty.
	ExpectedEmptyErrors []string `mapstructure:"expected_empty_errors" yaml:"expected_empty_errors"`

	// Success indicators polled for after a valid submission.
	SuccessSelectors []string `mapstructure:"success_selectors" yaml:"success_selectors"`
	SuccessTexts     []string `mapstructure:"success_texts" yaml:"success_texts"`

	Tracking TrackingConfig `mapstructure:"tracking" yaml:"tracking"`

	// Timing overrides; zero values inherit the global timing config.
	Timing FormTiming `mapstructure:"timing" yaml:"timing"`
}

// TrackingConfig carries the analytics identifiers a form stamps on its events.
type TrackingConfig struct {
	FormCode string `mapstructure:"form_code" yaml:"form_code"`
}

// FormTiming overrides global delays for a single form.
type FormTiming struct {
	FieldDelay        time.Duration `mapstructure:"field_delay" yaml:"field_delay"`
	PreSubmitDelay    time.Duration `mapstructure:"pre_submit_delay" yaml:"pre_submit_delay"`
	SubmitWaitTimeout time.Duration `mapstructure:"submit_wait_timeout" yaml:"submit_wait_timeout"`
}

// FormFieldConfig describes a single field and the values used to exercise it.
type FormFieldConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Type     string `mapstructure:"type" yaml:"type"`
	Selector string `mapstructure:"selector" yaml:"selector"`

	// Options enumerates legal values for radio/select fields.
	Options []string `mapstructure:"options" yaml:"options"`

	Required bool `mapstructure:"required" yaml:"required"`

	// ErrorSelector is the validation message shown when this field alone is
	// invalid or missing.
	ErrorSelector string `mapstructure:"error_selector" yaml:"error_selector"`

	// Conditional gates the field on another field's current value. While
	// the dependency is unmet the field is assumed hidden and never touched.
	Conditional *Conditional `mapstructure:"conditional" yaml:"conditional"`

	TestValues TestValues `mapstructure:"test_values" yaml:"test_values"`
}

// Conditional declares a visibility dependency between fields.
type Conditional struct {
	DependsOn string `mapstructure:"depends_on" yaml:"depends_on"`
	ShowWhen  string `mapstructure:"show_when" yaml:"show_when"`
}

// TestValues buckets the canned inputs a scenario can pick from.
type TestValues struct {
	Valid       string `mapstructure:"valid" yaml:"valid"`
	Invalid     string `mapstructure:"invalid" yaml:"invalid"`
	Alternative string `mapstructure:"alternative" yaml:"alternative"`
	Empty       string `mapstructure:"empty" yaml:"empty"`
	TooLong     string `mapstructure:"too_long" yaml:"too_long"`
}

// Value returns the bucket value for the named scenario bucket.
func (tv TestValues) Value(bucket string) string {
	switch bucket {
	case "valid":
		return tv.Valid
	case "invalid":
		return tv.Invalid
	case "alternative":
		return tv.Alternative
	case "empty":
		return tv.Empty
	case "too_long":
		return tv.TooLong
	}
	return ""
}

// ApplySiteFile merges a site override file over the receiver. Only keys
// present in the file are overridden.
func (c *Config) ApplySiteFile(path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand site config path %q: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading site config %q: %w", path, err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to merge site config %q: %w", path, err)
	}
	return nil
}

// FormForPage returns the first form whose page substring matches the given
// path. The second return reports whether one matched.
func (s *SiteConfig) FormForPage(path string) (*FormConfig, bool) {
	for i := range s.Forms {
		if s.Forms[i].Page != "" && strings.Contains(path, s.Forms[i].Page) {
			return &s.Forms[i], true
		}
	}
	return nil, false
}

// Field looks a field up by name.
func (f *FormConfig) Field(name string) (*FormFieldConfig, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	return nil, false
}

// Validate rejects malformed form descriptors. A broken form is a
// configuration error: the scenario gets skipped, not the run.
func (f *FormConfig) Validate() error {
	if f.FormSelector == "" {
		return fmt.Errorf("form_selector is required")
	}
	if f.SubmitSelector == "" {
		return fmt.Errorf("submit_selector is required")
	}
	seen := make(map[string]bool, len(f.Fields))
	for i := range f.Fields {
		fld := &f.Fields[i]
		if fld.Name == "" {
			return fmt.Errorf("fields[%d]: name is required", i)
		}
		if seen[fld.Name] {
			return fmt.Errorf("fields[%d]: duplicate field name %q", i, fld.Name)
		}
		seen[fld.Name] = true
		if fld.Selector == "" {
			return fmt.Errorf("field %q: selector is required", fld.Name)
		}
		switch fld.Type {
		case FieldRadio, FieldCheckbox, FieldText, FieldEmail, FieldTel, FieldSelect:
		default:
			return fmt.Errorf("field %q: unsupported type %q", fld.Name, fld.Type)
		}
		if (fld.Type == FieldRadio || fld.Type == FieldSelect) && len(fld.Options) == 0 {
			return fmt.Errorf("field %q: %s fields need options", fld.Name, fld.Type)
		}
		if fld.Conditional != nil {
			if fld.Conditional.DependsOn == "" {
				return fmt.Errorf("field %q: conditional.depends_on is required", fld.Name)
			}
			if fld.Conditional.DependsOn == fld.Name {
				return fmt.Errorf("field %q: conditional cannot depend on itself", fld.Name)
			}
			if _, ok := findField(f.Fields, fld.Conditional.DependsOn); !ok {
				return fmt.Errorf("field %q: conditional depends on unknown field %q", fld.Name, fld.Conditional.DependsOn)
			}
		}
	}
	return nil
}

// FieldDelay resolves the per-form override against the global default.
func (f *FormConfig) FieldDelay(global time.Duration) time.Duration {
	if f.Timing.FieldDelay > 0 {
		return f.Timing.FieldDelay
	}
	return global
}

// PreSubmitDelay resolves the per-form override against the global default.
func (f *FormConfig) PreSubmitDelay(global time.Duration) time.Duration {
	if f.Timing.PreSubmitDelay > 0 {
		return f.Timing.PreSubmitDelay
	}
	return global
}

// SubmitWaitTimeout resolves the per-form override against the global default.
func (f *FormConfig) SubmitWaitTimeout(global time.Duration) time.Duration {
	if f.Timing.SubmitWaitTimeout > 0 {
		return f.Timing.SubmitWaitTimeout
	}
	return global
}

func findField(fields []FormFieldConfig, name string) (*FormFieldConfig, bool) {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], true
		}
	}
	return nil, false
}
