// Package normalize turns raw training datasets (CSV, JSON, structured YAML)
// into one canonical corpus. Malformed input is never an error: it is
// reported through Result.Errors and Result.Warnings.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Format identifies the declared source format of a dataset file.
type Format string

const (
	FormatCSV            Format = "csv"
	FormatJSON           Format = "json"
	FormatStructuredYAML Format = "structured-yaml"
)

// ParseFormat maps a user-supplied format tag to a Format. "yaml", "yml" and
// "rasa" are accepted as aliases for structured-yaml.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, true
	case "json":
		return FormatJSON, true
	case "structured-yaml", "yaml", "yml", "rasa":
		return FormatStructuredYAML, true
	}
	return "", false
}

// EntitySpan is one entity occurrence inside an example's text.
// Start and End are byte offsets into Example.Text; both are -1 when the
// source did not locate the value in the text.
type EntitySpan struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Example is one accepted training utterance.
type Example struct {
	Text     string       `json:"text"`
	Intent   string       `json:"intent"`
	Entities []EntitySpan `json:"entities,omitempty"`
}

// Corpus is the canonical, format-independent training set.
type Corpus struct {
	Examples  []Example         `json:"examples"`
	Responses map[string]string `json:"responses,omitempty"`
}

// Intents returns the distinct intent names in the corpus, sorted.
func (c Corpus) Intents() []string {
	set := make(map[string]struct{})
	for _, ex := range c.Examples {
		set[ex.Intent] = struct{}{}
	}
	return sortedKeys(set)
}

// Entities returns the distinct entity types in the corpus, sorted.
func (c Corpus) Entities() []string {
	set := make(map[string]struct{})
	for _, ex := range c.Examples {
		for _, e := range ex.Entities {
			set[e.Entity] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Result is the outcome of normalizing one dataset file.
type Result struct {
	Valid       bool     `json:"valid"`
	Intents     []string `json:"intents"`
	Entities    []string `json:"entities"`
	SampleCount int      `json:"sample_count"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Corpus      Corpus   `json:"-"`
}

// Normalize parses data according to format. It is pure and safe to call
// concurrently.
func Normalize(format Format, data []byte) Result {
	b := newBuilder()
	switch format {
	case FormatCSV:
		parseCSV(data, b)
	case FormatJSON:
		parseJSON(data, b)
	case FormatStructuredYAML:
		parseYAML(data, b)
	default:
		b.fail("unsupported format %q: expected one of csv, json, structured-yaml", string(format))
	}
	return b.result()
}

// builder accumulates accepted examples and diagnostics for one run.
type builder struct {
	examples  []Example
	responses map[string]string
	errors    []string
	warnings  []string
}

func newBuilder() *builder {
	return &builder{responses: make(map[string]string)}
}

func (b *builder) fail(format string, args ...any) {
	b.errors = append(b.errors, fmt.Sprintf(format, args...))
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// add accepts an example if both text and intent are non-empty after
// cleaning. where names the source location for the warning on rejection.
func (b *builder) add(where, text, intent string, entities []EntitySpan) bool {
	text = cleanText(text)
	intent = strings.TrimSpace(intent)
	switch {
	case text == "" && intent == "":
		b.warn("%s: missing text and intent, dropped", where)
		return false
	case text == "":
		b.warn("%s: missing text, dropped", where)
		return false
	case intent == "":
		b.warn("%s: missing intent, dropped", where)
		return false
	}

	spans := make([]EntitySpan, 0, len(entities))
	for _, e := range entities {
		e.Entity = strings.TrimSpace(e.Entity)
		e.Value = cleanText(e.Value)
		if e.Value == "" && e.Start >= 0 && e.End > e.Start && e.End <= len(text) {
			e.Value = text[e.Start:e.End]
		}
		if e.Entity == "" {
			b.warn("%s: entity without a name, skipped", where)
			continue
		}
		spans = append(spans, locate(text, e))
	}
	if len(spans) == 0 {
		spans = nil
	}

	b.examples = append(b.examples, Example{Text: text, Intent: intent, Entities: spans})
	return true
}

// respond records the first non-empty response seen for an intent.
func (b *builder) respond(intent, text string) {
	intent = strings.TrimSpace(intent)
	text = strings.TrimSpace(text)
	if intent == "" || text == "" {
		return
	}
	if _, ok := b.responses[intent]; !ok {
		b.responses[intent] = text
	}
}

func (b *builder) result() Result {
	corpus := Corpus{Examples: b.examples}
	if len(b.responses) > 0 {
		corpus.Responses = b.responses
	}

	r := Result{
		Intents:     corpus.Intents(),
		Entities:    corpus.Entities(),
		SampleCount: len(b.examples),
		Warnings:    b.warnings,
		Corpus:      corpus,
	}
	if len(b.errors) == 0 && r.SampleCount == 0 {
		b.fail("dataset contains no usable examples")
	}
	r.Errors = b.errors
	r.Valid = len(r.Errors) == 0
	if !r.Valid {
		r.Intents, r.Entities, r.SampleCount = []string{}, []string{}, 0
		r.Corpus = Corpus{}
	}
	return r
}

// locate fills in byte offsets for an entity whose source did not give
// usable ones. The value is searched for in the cleaned text.
func locate(text string, e EntitySpan) EntitySpan {
	if e.Start >= 0 && e.End > e.Start && e.End <= len(text) && text[e.Start:e.End] == e.Value {
		return e
	}
	if e.Value != "" {
		if i := strings.Index(text, e.Value); i >= 0 {
			e.Start, e.End = i, i+len(e.Value)
			return e
		}
	}
	e.Start, e.End = -1, -1
	return e
}

func cleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
