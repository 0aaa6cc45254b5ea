package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func parseJSON(data []byte, b *builder) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) == 0 {
		b.fail("JSON file is empty")
		return
	}

	var elems []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &elems); err != nil {
			b.fail("JSON parsing error: %v", err)
			return
		}
	case '{':
		// A single object is treated as a one-element dataset.
		if !json.Valid(data) {
			b.fail("JSON parsing error: invalid object")
			return
		}
		elems = []json.RawMessage{data}
	default:
		b.fail("JSON parsing error: top-level value must be an array of objects")
		return
	}
	if len(elems) == 0 {
		b.fail("JSON file is empty")
		return
	}

	for i, raw := range elems {
		where := fmt.Sprintf("element %d", i)
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			b.warn("%s: not an object, skipped", where)
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			b.warn("%s: %v, skipped", where, err)
			continue
		}

		text, ok := stringField(fields, "text")
		if !ok {
			b.warn("%s: field \"text\" is not a string, dropped", where)
			continue
		}
		intent, ok := stringField(fields, "intent")
		if !ok {
			b.warn("%s: field \"intent\" is not a string, dropped", where)
			continue
		}

		entities := decodeEntityList(fields["entities"], where, b)
		if b.add(where, text, intent, entities) {
			if resp, ok := stringField(fields, "response"); ok {
				b.respond(intent, resp)
			}
		}
	}
}

// stringField reports the string value of key. A missing or null key yields
// ("", true) so that the caller's missing-field handling applies; any other
// non-string type yields ok == false.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, present := fields[key]
	if !present || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeEntityList(raw json.RawMessage, where string, b *builder) []EntitySpan {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		b.warn("%s: field \"entities\" is not an array, ignored", where)
		return nil
	}
	spans := make([]EntitySpan, 0, len(items))
	for j, item := range items {
		var rec entityRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			b.warn("%s: entity %d is malformed, skipped", where, j)
			continue
		}
		spans = append(spans, rec.span())
	}
	return spans
}
