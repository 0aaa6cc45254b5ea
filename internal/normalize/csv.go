package normalize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// entityRecord is the JSON shape of one entity in CSV cells and JSON
// elements. Offsets are optional.
type entityRecord struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
	Start  *int   `json:"start,omitempty"`
	End    *int   `json:"end,omitempty"`
}

func (r entityRecord) span() EntitySpan {
	s := EntitySpan{Entity: r.Entity, Value: r.Value, Start: -1, End: -1}
	if r.Start != nil && r.End != nil {
		s.Start, s.End = *r.Start, *r.End
	}
	return s
}

func parseCSV(data []byte, b *builder) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		b.fail("CSV file is empty")
		return
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		b.fail("CSV header: %v", err)
		return
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	var missing []string
	for _, want := range []string{"text", "intent"} {
		if _, ok := cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		b.fail("missing required columns: %s (found: %s)", strings.Join(missing, ", "), strings.Join(header, ", "))
		return
	}

	cell := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				b.warn("row %d: %v, dropped", perr.Line, perr.Err)
				continue
			}
			b.fail("CSV read: %v", err)
			return
		}
		if isBlankRecord(rec) {
			continue
		}

		line, _ := r.FieldPos(0)
		where := fmt.Sprintf("row %d", line)
		entities, err := decodeEntityCell(cell(rec, "entities"))
		if err != nil {
			b.warn("%s: invalid entities column: %v", where, err)
		}
		intent := cell(rec, "intent")
		if b.add(where, cell(rec, "text"), intent, entities) {
			b.respond(intent, cell(rec, "response"))
		}
	}
}

func decodeEntityCell(raw string) ([]EntitySpan, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var recs []entityRecord
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, err
	}
	spans := make([]EntitySpan, 0, len(recs))
	for _, r := range recs {
		spans = append(spans, r.span())
	}
	return spans, nil
}

func isBlankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
