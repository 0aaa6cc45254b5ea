package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportYAML renders a corpus as a structured-yaml document. Intents appear
// in order of first occurrence. Located entity spans are written back as
// inline [value](entity) annotations and literal brackets are escaped, so
// normalizing the output yields the same examples. Spans without a position
// in the text, or overlapping an earlier span, cannot be written inline and
// are dropped; UnexportableEntities lists them.
func ExportYAML(c Corpus) ([]byte, error) {
	var order []string
	byIntent := make(map[string][]Example)
	for _, ex := range c.Examples {
		if _, seen := byIntent[ex.Intent]; !seen {
			order = append(order, ex.Intent)
		}
		byIntent[ex.Intent] = append(byIntent[ex.Intent], ex)
	}

	nlu := &yaml.Node{Kind: yaml.SequenceNode}
	for _, intent := range order {
		nlu.Content = append(nlu.Content, mappingNode(
			strNode("intent"), strNode(intent),
			strNode("examples"), examplesNode(byIntent[intent]),
		))
	}

	doc := mappingNode(
		strNode("version"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "3.1", Style: yaml.DoubleQuotedStyle},
		strNode("nlu"), nlu,
	)

	if len(c.Responses) > 0 {
		intents := make([]string, 0, len(c.Responses))
		for k := range c.Responses {
			intents = append(intents, k)
		}
		sort.Strings(intents)

		responses := &yaml.Node{Kind: yaml.MappingNode}
		for _, intent := range intents {
			list := &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{
				mappingNode(strNode("text"), strNode(c.Responses[intent])),
			}}
			responses.Content = append(responses.Content, strNode("utter_"+intent), list)
		}
		doc.Content = append(doc.Content, strNode("responses"), responses)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{doc}}); err != nil {
		return nil, fmt.Errorf("encoding corpus: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding corpus: %w", err)
	}
	return buf.Bytes(), nil
}

// UnexportableEntities describes the entity spans ExportYAML has to drop.
func UnexportableEntities(c Corpus) []string {
	var out []string
	for i, ex := range c.Examples {
		_, dropped := inlineSpans(ex)
		for _, e := range dropped {
			out = append(out, fmt.Sprintf("example %d (%q): entity %q with value %q cannot be annotated inline", i+1, ex.Text, e.Entity, e.Value))
		}
	}
	return out
}

// examplesNode uses the usual "- " block scalar. A text with a line break
// cannot live on one line of that block, so such intents fall back to a
// sequence of quoted strings, which the parser accepts as well.
func examplesNode(examples []Example) *yaml.Node {
	lines := make([]string, 0, len(examples))
	multiline := false
	for _, ex := range examples {
		if strings.ContainsAny(ex.Text, "\n\r\u0085\u2028\u2029") {
			multiline = true
		}
		lines = append(lines, annotate(ex))
	}

	if multiline {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, l := range lines {
			n := strNode(l)
			n.Style = yaml.DoubleQuotedStyle
			seq.Content = append(seq.Content, n)
		}
		return seq
	}

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString("- ")
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	n := strNode(sb.String())
	n.Style = yaml.LiteralStyle
	return n
}

// inlineSpans splits an example's entities into those that can be written
// as inline markup and those that cannot.
func inlineSpans(ex Example) (keep, dropped []EntitySpan) {
	located := make([]EntitySpan, 0, len(ex.Entities))
	for _, e := range ex.Entities {
		if e.Start >= 0 && e.End > e.Start && e.End <= len(ex.Text) {
			located = append(located, e)
		} else {
			dropped = append(dropped, e)
		}
	}
	sort.SliceStable(located, func(i, j int) bool { return located[i].Start < located[j].Start })

	last := 0
	for _, e := range located {
		if e.Start < last {
			dropped = append(dropped, e)
			continue
		}
		keep = append(keep, e)
		last = e.End
	}
	return keep, dropped
}

func annotate(ex Example) string {
	spans, _ := inlineSpans(ex)

	var sb strings.Builder
	last := 0
	for _, e := range spans {
		sb.WriteString(escapeText.Replace(ex.Text[last:e.Start]))
		sb.WriteString("[")
		sb.WriteString(escapeText.Replace(ex.Text[e.Start:e.End]))
		sb.WriteString("]")
		sb.WriteString(entityRef(e.Entity))
		last = e.End
	}
	sb.WriteString(escapeText.Replace(ex.Text[last:]))
	return sb.String()
}

// entityRef writes the (entity) form for plain names and the JSON form for
// names that would break it.
func entityRef(name string) string {
	if !strings.ContainsAny(name, `()[]{}:\`) {
		return "(" + name + ")"
	}
	raw, _ := json.Marshal(map[string]string{"entity": name})
	inner := strings.TrimSuffix(strings.TrimPrefix(string(raw), "{"), "}")
	return "{" + strings.NewReplacer("{", `\u007b`, "}", `\u007d`).Replace(inner) + "}"
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func mappingNode(kv ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Content: kv}
}
