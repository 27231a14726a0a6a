package analytics

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDictionary() *ParamDictionary {
	return NewParamDictionary(map[string][]string{
		"eventName":     {"en", "event_name"},
		"eventCategory": {"ep.event_category", "event_category", "ec"},
		"eventAction":   {"ep.event_action", "event_action"},
		"eventLabel":    {"ep.event_label", "event_label"},
		"pageLocation":  {"dl", "page_location"},
	})
}

func TestResolveSingleAlias(t *testing.T) {
	dict := testDictionary()

	// Any single alias must resolve to its canonical key.
	for _, alias := range []string{"ep.event_category", "event_category", "ec"} {
		values := url.Values{alias: {"nav"}}
		got := dict.Resolve(values)
		assert.Equal(t, "nav", got["eventCategory"], "alias %s", alias)
	}
}

func TestResolveAliasPrecedence(t *testing.T) {
	dict := testDictionary()

	// When multiple aliases are present simultaneously with different values,
	// the earliest configured alias wins.
	values := url.Values{
		"ec":                {"last"},
		"event_category":    {"middle"},
		"ep.event_category": {"first"},
	}
	got := dict.Resolve(values)
	assert.Equal(t, "first", got["eventCategory"])

	// Drop the highest precedence alias; the next one takes over.
	delete(values, "ep.event_category")
	got = dict.Resolve(values)
	assert.Equal(t, "middle", got["eventCategory"])
}

func TestResolveAbsentKeysOmitted(t *testing.T) {
	dict := testDictionary()
	got := dict.Resolve(url.Values{"en": {"click"}})

	_, present := got["eventCategory"]
	assert.False(t, present, "canonical keys with no alias present must be absent, not empty")
	assert.Equal(t, "click", got["eventName"])
}

func TestDecodeRequestQueryOnly(t *testing.T) {
	dict := testDictionary()

	decoded := dict.DecodeRequest("https://www.google-analytics.com/g/collect?en=click&ep.event_category=nav", "")
	require.Len(t, decoded, 1)

	want := map[string]string{"eventName": "click", "eventCategory": "nav"}
	if diff := cmp.Diff(want, decoded[0]); diff != "" {
		t.Errorf("decoded params mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRequestBatchedBody(t *testing.T) {
	dict := testDictionary()

	// GA4 batches: shared params on the URL, one payload line per event.
	body := "en=scroll&ep.event_label=75\nen=click&ep.event_label=cta"
	decoded := dict.DecodeRequest("https://www.google-analytics.com/g/collect?dl=https%3A%2F%2Fexample.com%2F", body)
	require.Len(t, decoded, 2)

	assert.Equal(t, "scroll", decoded[0]["eventName"])
	assert.Equal(t, "75", decoded[0]["eventLabel"])
	assert.Equal(t, "click", decoded[1]["eventName"])
	assert.Equal(t, "cta", decoded[1]["eventLabel"])

	// Shared URL parameters ride along on every event.
	assert.Equal(t, "https://example.com/", decoded[0]["pageLocation"])
	assert.Equal(t, "https://example.com/", decoded[1]["pageLocation"])
}

func TestDecodeRequestBodyOverridesURL(t *testing.T) {
	dict := testDictionary()

	decoded := dict.DecodeRequest("https://www.google-analytics.com/g/collect?en=page_view", "en=click")
	require.Len(t, decoded, 1)
	assert.Equal(t, "click", decoded[0]["eventName"])
}

func TestDecodeRequestGarbageBodyFallsBackToURL(t *testing.T) {
	dict := testDictionary()

	decoded := dict.DecodeRequest("https://www.google-analytics.com/g/collect?en=page_view", "%zz;=%")
	require.Len(t, decoded, 1)
	assert.Equal(t, "page_view", decoded[0]["eventName"])
}

func TestNewParamDictionaryCopies(t *testing.T) {
	src := map[string][]string{"eventName": {"en"}}
	dict := NewParamDictionary(src)
	src["eventName"][0] = "mutated"

	got := dict.Resolve(url.Values{"en": {"click"}})
	assert.Equal(t, "click", got["eventName"])
}
