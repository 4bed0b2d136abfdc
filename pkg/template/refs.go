package template

import (
	"regexp"
	"sort"

	"github.com/openkiln/openkiln/pkg/engine"
)

var (
	refPattern  = regexp.MustCompile(`\$\{ref:([A-Za-z0-9_-]+)\}`)
	attrPattern = regexp.MustCompile(`\$\{attr:([A-Za-z0-9_-]+)\.([A-Za-z0-9_.-]+)\}`)
)

// ExtractRefs walks a property tree and returns the names referenced
// through ${ref:NAME}, in first-appearance order without duplicates.
// ${attr:NAME.KEY} references are intentionally excluded: attribute
// reads do not order execution.
func ExtractRefs(props map[string]interface{}) []string {
	var names []string
	seen := make(map[string]bool)

	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case string:
			for _, m := range refPattern.FindAllStringSubmatch(val, -1) {
				if !seen[m[1]] {
					seen[m[1]] = true
					names = append(names, m[1])
				}
			}
		case map[string]interface{}:
			// Deterministic walk order keeps extraction stable.
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(val[k])
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(props)

	return names
}

// Extractor adapts ExtractRefs to the engine's graph-building hook.
func Extractor() engine.ReferenceExtractor {
	return func(r *engine.Resource) []string {
		return ExtractRefs(r.Properties)
	}
}
