package analytics

import (
	"net/url"
	"strings"
)

// ParamDictionary maps canonical event field names to the raw query parameter
// spellings different tag versions use for them. Alias order is precedence
// order: resolution probes aliases left to right and the first one present
// wins, even when a later alias is also present with a different value.
type ParamDictionary struct {
	params map[string][]string
}

// NewParamDictionary builds a dictionary from the configured alias lists.
// The map is copied; callers may mutate their copy afterwards.
func NewParamDictionary(params map[string][]string) *ParamDictionary {
	cp := make(map[string][]string, len(params))
	for canonical, aliases := range params {
		cp[canonical] = append([]string(nil), aliases...)
	}
	return &ParamDictionary{params: cp}
}

// Resolve maps a flat query parameter set onto canonical names. Canonical
// keys with no present alias are left out entirely rather than mapped to "".
func (d *ParamDictionary) Resolve(values url.Values) map[string]string {
	out := make(map[string]string, len(d.params))
	for canonical, aliases := range d.params {
		for _, alias := range aliases {
			if vs, ok := values[alias]; ok && len(vs) > 0 {
				out[canonical] = vs[0]
				break
			}
		}
	}
	return out
}

// DecodeRequest turns one observed analytics request into decoded parameter
// maps, one per event. GA4 batches events by POSTing to /g/collect with one
// query-string-shaped payload per body line; shared parameters ride on the
// request URL and per-event parameters override them.
func (d *ParamDictionary) DecodeRequest(rawURL, postBody string) []map[string]string {
	base := url.Values{}
	if u, err := url.Parse(rawURL); err == nil {
		base = u.Query()
	}

	lines := splitPayloadLines(postBody)
	if len(lines) == 0 {
		return []map[string]string{d.Resolve(base)}
	}

	out := make([]map[string]string, 0, len(lines))
	for _, line := range lines {
		eventValues, err := url.ParseQuery(line)
		if err != nil {
			continue
		}
		merged := cloneValues(base)
		for k, vs := range eventValues {
			merged[k] = vs
		}
		out = append(out, d.Resolve(merged))
	}
	if len(out) == 0 {
		return []map[string]string{d.Resolve(base)}
	}
	return out
}

func splitPayloadLines(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	raw := strings.Split(body, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
