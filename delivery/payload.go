package delivery

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Payload is an inbound JSON document as received, plus its decoded object
// members when the document is a JSON object.
type Payload struct {
	raw    []byte
	fields map[string]any
}

// ParsePayload validates body as JSON. Numbers keep their original text.
func ParsePayload(body []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, ErrInvalidPayload
	}

	p := &Payload{raw: trimmed}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&p.fields); err != nil {
			return nil, ErrInvalidPayload
		}
	}
	return p, nil
}

// Bytes returns the JSON document sent as request body to non-GET destinations.
func (p *Payload) Bytes() []byte { return p.raw }

// IsObject reports whether the payload can be expressed as query parameters.
func (p *Payload) IsObject() bool { return p.fields != nil }

// QueryValues flattens the top-level object members into query parameters.
// Arrays repeat the key, nested objects are sent as compact JSON and null
// members are dropped.
func (p *Payload) QueryValues() url.Values {
	values := url.Values{}
	for key, v := range p.fields {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, item := range val {
				if item != nil {
					values.Add(key, queryString(item))
				}
			}
		default:
			values.Add(key, queryString(val))
		}
	}
	return values
}

func queryString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		var buf strings.Builder
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return ""
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}
