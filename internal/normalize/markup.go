package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// markupPattern matches inline entity annotations:
//
//	[value](entity)
//	[value](entity:synonym)
//	[value]{"entity": "entity", ...}
var markupPattern = regexp.MustCompile(`\[([^\[\]]+)\](?:\(([^()]+)\)|(\{[^{}]*\}))`)

// Escaped brackets and backslashes (\[ \] \\) are literal text. They are
// swapped for noncharacter runes while annotations are matched.
var (
	hideEscapes    = strings.NewReplacer(`\\`, "\uFDD2", `\[`, "\uFDD0", `\]`, "\uFDD1")
	unescapeText   = strings.NewReplacer("\uFDD0", "[", "\uFDD1", "]", "\uFDD2", `\`)
	restoreEscapes = strings.NewReplacer("\uFDD0", `\[`, "\uFDD1", `\]`, "\uFDD2", `\\`)
	escapeText     = strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`)
)

// parseMarkup strips inline entity annotations from an example line and
// returns the plain text together with the annotated spans. Offsets refer to
// the returned text. A malformed annotation is left in the text as-is and
// reported through err; the example itself stays usable.
func parseMarkup(line string) (string, []EntitySpan, error) {
	line = hideEscapes.Replace(line)
	matches := markupPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return unescapeText.Replace(line), nil, nil
	}

	var (
		sb       strings.Builder
		spans    []EntitySpan
		problems []string
		last     int
	)
	for _, m := range matches {
		sb.WriteString(unescapeText.Replace(line[last:m[0]]))
		last = m[1]

		value := unescapeText.Replace(line[m[2]:m[3]])
		entity, err := annotationEntity(line, m)
		if err != nil {
			problems = append(problems, err.Error())
			sb.WriteString(unescapeText.Replace(line[m[0]:m[1]]))
			continue
		}

		start := sb.Len()
		sb.WriteString(value)
		spans = append(spans, EntitySpan{
			Entity: entity,
			Value:  value,
			Start:  start,
			End:    sb.Len(),
		})
	}
	sb.WriteString(unescapeText.Replace(line[last:]))

	var err error
	if len(problems) > 0 {
		err = fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return sb.String(), spans, err
}

func annotationEntity(line string, m []int) (string, error) {
	full := restoreEscapes.Replace(line[m[0]:m[1]])
	if m[4] >= 0 {
		name, _, _ := strings.Cut(restoreEscapes.Replace(line[m[4]:m[5]]), ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return "", fmt.Errorf("annotation %q has an empty entity name", full)
		}
		return name, nil
	}

	var obj struct {
		Entity string `json:"entity"`
	}
	if err := json.Unmarshal([]byte(restoreEscapes.Replace(line[m[6]:m[7]])), &obj); err != nil {
		return "", fmt.Errorf("annotation %q: %v", full, err)
	}
	if strings.TrimSpace(obj.Entity) == "" {
		return "", fmt.Errorf("annotation %q has no entity key", full)
	}
	return strings.TrimSpace(obj.Entity), nil
}
