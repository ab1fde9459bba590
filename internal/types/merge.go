package types

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Merge implements "puppet-style additive deep merge" (§4.1): for two
// mappings, recurse key-by-key; for two lists, concatenate; for two sets
// (represented as lists here — YAML has no native set type), union; for
// scalars or type-mismatched pairs, right wins. merge(base, override) has
// override winning, matching the spec's left-to-right, right-precedence
// convention.
func Merge(base, override any) any {
	switch ov := override.(type) {
	case map[string]any:
		bm, ok := base.(map[string]any)
		if !ok {
			return ov
		}
		out := make(map[string]any, len(bm)+len(ov))
		for k, v := range bm {
			out[k] = v
		}
		for k, v := range ov {
			if bv, exists := out[k]; exists {
				out[k] = Merge(bv, v)
			} else {
				out[k] = v
			}
		}
		return out
	case []any:
		bl, ok := base.([]any)
		if !ok {
			return ov
		}
		return unionOrConcat(bl, ov)
	default:
		return override
	}
}

// unionOrConcat concatenates two lists unless every element of both is a
// comparable scalar, in which case it unions (de-duplicates) them — the
// spec's "for two sets, union" rule applied to YAML's untyped lists.
func unionOrConcat(a, b []any) []any {
	if !allScalar(a) || !allScalar(b) {
		out := make([]any, 0, len(a)+len(b))
		out = append(out, a...)
		out = append(out, b...)
		return out
	}
	seen := make(map[any]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, v := range append(append([]any{}, a...), b...) {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func allScalar(vs []any) bool {
	for _, v := range vs {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

// MergeStrategy selects how ParseYAMLForest groups files before merging.
type MergeStrategy int

const (
	// MergeNone yields one entry per file, keyed by its path.
	MergeNone MergeStrategy = iota
	// MergePrefix groups files by the first dot-delimited token of their
	// filename and merges each group.
	MergePrefix
	// MergeAll merges every file into one entry keyed "merged-all".
	MergeAll
)

// ParseYAML decodes a single YAML document into a generic map[string]any
// tree (lists become []any, maps become map[string]any) suitable for Merge.
func ParseYAML(data []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return normalize(raw).(map[string]any), nil
}

// normalize converts yaml.v3's default map[string]interface{}/[]interface{}
// decode shape (already map[string]any/[]any for yaml.v3, but nested maps
// may decode as map[string]interface{} with non-string-keyed variants in
// older inputs) into the uniform map[string]any/[]any tree Merge expects.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[toString(k)] = normalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalize(vv)
		}
		return out
	default:
		return v
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return yamlScalarString(v)
}

func yamlScalarString(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// ParseYAMLForest reads and merges a set of YAML files into a forest keyed
// per the given MergeStrategy.
func ParseYAMLForest(paths []string, strategy MergeStrategy, readFile func(string) ([]byte, error)) (map[string]map[string]any, error) {
	forest := make(map[string]map[string]any)

	key := func(path string) string {
		switch strategy {
		case MergeAll:
			return "merged-all"
		case MergePrefix:
			base := filepath.Base(path)
			return strings.SplitN(base, ".", 2)[0]
		default:
			return path
		}
	}

	for _, p := range paths {
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseYAML(data)
		if err != nil {
			return nil, err
		}
		k := key(p)
		if existing, ok := forest[k]; ok {
			forest[k] = Merge(existing, parsed).(map[string]any)
		} else {
			forest[k] = parsed
		}
	}
	return forest, nil
}

// FindYAMLFiles walks root up to maxDepth directories deep (0 = root only)
// and returns every "*.yaml" file found, sorted in reverse lexical order to
// match the legacy loader's deterministic, most-specific-first ordering.
func FindYAMLFiles(fsys fs.FS, root string, maxDepth int) ([]string, error) {
	var out []string
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			if rel != "." && strings.Count(rel, string(filepath.Separator))+1 > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".yaml") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
