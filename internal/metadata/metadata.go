// Package metadata decodes the loosely typed payload attached to queue objects
// and audit entries. Two encodings are accepted: a JSON object, and the legacy
// bracketed form `{key=value, key2=value2}` written by older producers.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUndecodable is returned when neither encoding matches.
var ErrUndecodable = errors.New("undecodable metadata")

// Fields is the typed view of a payload. Unrecognised keys land in Extra.
type Fields struct {
	Company   string
	CompanyID string
	Amount    decimal.Decimal
	HasAmount bool
	Currency  string
	Region    string
	Extra     map[string]string
}

// Decode parses raw as JSON and falls back to the legacy bracket format.
func Decode(raw string) (Fields, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Fields{}, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}
	values, jsonErr := parseJSON(raw)
	if jsonErr == nil {
		return fromMap(values), nil
	}
	values, legacyErr := ParseLegacy(raw)
	if legacyErr == nil {
		return fromMap(values), nil
	}
	return Fields{}, fmt.Errorf("%w: json: %v; legacy: %v", ErrUndecodable, jsonErr, legacyErr)
}

// Map flattens f back into string key/values.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f.Extra)+5)
	for k, v := range f.Extra {
		out[k] = v
	}
	if f.Company != "" {
		out["company"] = f.Company
	}
	if f.CompanyID != "" {
		out["company_id"] = f.CompanyID
	}
	if f.HasAmount {
		out["amount"] = f.Amount.StringFixed(2)
	}
	if f.Currency != "" {
		out["currency"] = f.Currency
	}
	if f.Region != "" {
		out["region"] = f.Region
	}
	return out
}

// Encode serialises f as a JSON object.
func Encode(f Fields) (string, error) {
	b, err := json.Marshal(f.Map())
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Render produces a display string: indented JSON, the legacy text re-flowed,
// the raw input when nothing parses, or "-" for empty payloads.
func Render(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "{}" || trimmed == "-" {
		return "-"
	}
	if json.Valid([]byte(trimmed)) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(trimmed), "", "  "); err == nil {
			return buf.String()
		}
	}
	values, err := ParseLegacy(trimmed)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", k, values[k]))
	}
	return "{\n" + strings.Join(lines, ",\n") + "\n}"
}

// ParseLegacy parses `{k=v, k2=v2}`. Nested braces are kept verbatim as values.
func ParseLegacy(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != '{' || raw[len(raw)-1] != '}' {
		return nil, errors.New("not a bracketed map")
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	out := map[string]string{}
	if inner == "" {
		return out, nil
	}
	parts, err := splitTopLevel(inner)
	if err != nil {
		return nil, err
	}
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("entry %q has no key=value pair", part)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func splitTopLevel(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced brackets")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.New("unbalanced brackets")
	}
	return append(parts, s[start:]), nil
}

func parseJSON(raw string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a json object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after json object")
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

func fromMap(values map[string]string) Fields {
	f := Fields{Extra: map[string]string{}}
	for k, v := range values {
		switch k {
		case "company", "company_name", "companyName":
			f.Company = v
		case "company_id", "companyId":
			f.CompanyID = v
		case "currency":
			f.Currency = v
		case "region":
			f.Region = v
		case "amount":
			d, err := decimal.NewFromString(v)
			if err != nil {
				f.Extra[k] = v
				continue
			}
			f.Amount = d
			f.HasAmount = true
		default:
			f.Extra[k] = v
		}
	}
	return f
}
