package forms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedbyjessica/ga4audit/internal/config"
)

const sampleSignupMarkup = `
<form id="signup-form" action="/signup" method="post">
  <input type="radio" name="i_am" value="Patient" required>
  <input type="radio" name="i_am" value="Caregiver" required>
  <input type="text" name="first_name" required>
  <input type="email" name="email" required>
  <input type="tel" name="phone">
  <select name="state" required>
    <option value="">Choose one</option>
    <option value="CA">California</option>
    <option value="NY">New York</option>
  </select>
  <textarea name="notes"></textarea>
  <input type="checkbox" name="consent" required>
  <input type="hidden" name="csrf_token" value="abc">
  <input type="submit" value="Sign up">
</form>`

func TestSynthesizeFormConfig(t *testing.T) {
	form, err := SynthesizeFormConfig("/signup", sampleSignupMarkup)
	require.NoError(t, err)

	assert.Equal(t, "/signup", form.Page)
	assert.Equal(t, "form", form.FormSelector)

	byName := make(map[string]config.FormFieldConfig, len(form.Fields))
	for _, f := range form.Fields {
		byName[f.Name] = f
	}

	// Hidden and submit inputs are not testable fields.
	assert.NotContains(t, byName, "csrf_token")
	require.Len(t, form.Fields, 7)

	radio := byName["i_am"]
	assert.Equal(t, config.FieldRadio, radio.Type)
	assert.True(t, radio.Required)
	// Only the first radio of a group is kept; its value seeds the options.
	assert.Equal(t, []string{"Patient"}, radio.Options)
	assert.Equal(t, "Patient", radio.TestValues.Valid)

	assert.Equal(t, config.FieldEmail, byName["email"].Type)
	assert.Equal(t, config.FieldTel, byName["phone"].Type)
	assert.False(t, byName["phone"].Required)
	assert.Equal(t, config.FieldText, byName["notes"].Type)
	assert.Equal(t, config.FieldCheckbox, byName["consent"].Type)

	sel := byName["state"]
	assert.Equal(t, config.FieldSelect, sel.Type)
	// The empty placeholder option is dropped.
	assert.Equal(t, []string{"CA", "NY"}, sel.Options)
	assert.Equal(t, "CA", sel.TestValues.Valid)

	assert.Equal(t, `form [name="email"]`, byName["email"].Selector)
}

func TestSynthesizeFormConfigNoUsableFields(t *testing.T) {
	_, err := SynthesizeFormConfig("/empty", `<form><input type="submit"></form>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable fields")
}

func TestAutoDetect(t *testing.T) {
	d := newFakeFormDriver("#submit")
	d.markup = sampleSignupMarkup
	tester := newTestTester(d)

	form, err := tester.AutoDetect(context.Background(), "/signup")
	require.NoError(t, err)
	assert.Equal(t, "/signup", form.Page)
	assert.Len(t, form.Fields, 7)
}

func TestAutoDetectNoForm(t *testing.T) {
	d := newFakeFormDriver("#submit")
	d.counts["form"] = 0
	tester := newTestTester(d)

	_, err := tester.AutoDetect(context.Background(), "/no-form")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no <form> element")
}
