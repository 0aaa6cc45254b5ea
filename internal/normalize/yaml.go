package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlDoc struct {
	Version   string                    `yaml:"version"`
	NLU       []yamlBlock               `yaml:"nlu"`
	Responses map[string][]yamlResponse `yaml:"responses"`
}

type yamlBlock struct {
	Intent   string    `yaml:"intent"`
	Examples yaml.Node `yaml:"examples"`
	Synonym  string    `yaml:"synonym"`
	Lookup   string    `yaml:"lookup"`
	Regex    string    `yaml:"regex"`
}

type yamlResponse struct {
	Text string `yaml:"text"`
}

func parseYAML(data []byte, b *builder) {
	if len(bytes.TrimSpace(data)) == 0 {
		b.fail("YAML file is empty")
		return
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		b.fail("YAML parsing error: %v", err)
		return
	}
	if len(doc.NLU) == 0 {
		b.fail("YAML document has no nlu section")
		return
	}

	for i, blk := range doc.NLU {
		where := fmt.Sprintf("nlu block %d", i)
		intent := strings.TrimSpace(blk.Intent)
		if intent == "" {
			switch {
			case blk.Synonym != "", blk.Lookup != "", blk.Regex != "":
				b.warn("%s: not an intent block, skipped", where)
			default:
				b.warn("%s: missing intent name, skipped", where)
			}
			continue
		}
		where = fmt.Sprintf("intent %q", intent)

		lines, stray, ok := exampleLines(&blk.Examples)
		for _, n := range stray {
			b.warn("%s: line %d of examples does not start with \"- \", skipped", where, n)
		}
		if !ok {
			b.warn("%s: examples must be a block of \"- \" lines, skipped", where)
			continue
		}
		accepted := 0
		for n, line := range lines {
			lineWhere := fmt.Sprintf("%s example %d", where, n+1)
			text, entities, err := parseMarkup(line)
			if err != nil {
				b.warn("%s: %v", lineWhere, err)
			}
			if b.add(lineWhere, text, intent, entities) {
				accepted++
			}
		}
		if accepted == 0 {
			b.warn("%s: no examples", where)
		}
	}

	for key, list := range doc.Responses {
		for _, r := range list {
			if strings.TrimSpace(r.Text) != "" {
				b.respond(strings.TrimPrefix(key, "utter_"), r.Text)
				break
			}
		}
	}
}

// exampleLines extracts the raw example strings from an examples node. The
// usual form is a block scalar of "- " prefixed lines; a YAML sequence of
// strings is accepted too. stray holds the 1-based numbers of block lines
// that are not examples.
func exampleLines(n *yaml.Node) (lines []string, stray []int, ok bool) {
	switch n.Kind {
	case 0:
		return nil, nil, true
	case yaml.ScalarNode:
		for i, line := range strings.Split(n.Value, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "-") {
				stray = append(stray, i+1)
				continue
			}
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(line, "-")))
		}
		return lines, stray, true
	case yaml.SequenceNode:
		lines = make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return nil, nil, false
			}
			lines = append(lines, c.Value)
		}
		return lines, nil, true
	}
	return nil, nil, false
}
