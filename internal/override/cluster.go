package override

import (
	"fmt"
	"sort"
	"strings"
)

// Cluster is a group of identical overrides recurring across two or more
// distinct files, a candidate for promotion into the taxonomy.
type Cluster struct {
	Rule          string   `json:"rule"`
	Value         string   `json:"value"`
	Files         []string `json:"files"` // deduplicated, discovery order
	FileCount     int      `json:"fileCount"`
	Reasons       []string `json:"reasons"` // distinct reasons, discovery order
	SuggestedName string   `json:"suggestedName"`
	PromotionCmd  string   `json:"promotionCmd"`
}

// reason tokens shorter than this or in the stopword set never contribute
// to a suggested intent name.
const minTokenLen = 3

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true,
	"that": true, "from": true, "our": true, "use": true, "uses": true,
}

// ClusterOverrides groups overrides sharing a (rule, value) key across two
// or more distinct files. The same file contributing the same override
// twice counts once. Clusters sort by descending file count, ties broken
// by discovery order.
func ClusterOverrides(overrides []Override) []Cluster {
	type bucket struct {
		order   int
		rule    string
		value   string
		files   []string
		fileSet map[string]bool
		reasons []string
		seen    map[string]bool
	}
	buckets := make(map[string]*bucket)
	var keys []string

	for _, o := range overrides {
		key := o.Rule + "\x00" + o.Value
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				order:   len(keys),
				rule:    o.Rule,
				value:   o.Value,
				fileSet: make(map[string]bool),
				seen:    make(map[string]bool),
			}
			buckets[key] = b
			keys = append(keys, key)
		}
		if !b.fileSet[o.File] {
			b.fileSet[o.File] = true
			b.files = append(b.files, o.File)
		}
		if o.Reason != "" && !b.seen[o.Reason] {
			b.seen[o.Reason] = true
			b.reasons = append(b.reasons, o.Reason)
		}
	}

	var clusters []Cluster
	for _, key := range keys {
		b := buckets[key]
		if len(b.files) < 2 {
			continue // single-file occurrences are never clustered
		}
		name := suggestIntent(b.rule, b.reasons)
		clusters = append(clusters, Cluster{
			Rule:          b.rule,
			Value:         b.value,
			Files:         b.files,
			FileCount:     len(b.files),
			Reasons:       b.reasons,
			SuggestedName: name,
			PromotionCmd:  fmt.Sprintf("govern registry promote --intent %s --rule %s --value %q", name, b.rule, b.value),
		})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].FileCount > clusters[j].FileCount
	})
	return clusters
}

// suggestIntent derives a kebab-case intent name from tokens common to
// every reason, in first-reason order. Falls back to the rule name when
// the reasons share nothing.
func suggestIntent(rule string, reasons []string) string {
	if len(reasons) == 0 {
		return kebab(rule)
	}
	counts := make(map[string]int)
	for _, reason := range reasons {
		seen := make(map[string]bool)
		for _, tok := range tokens(reason) {
			if !seen[tok] {
				seen[tok] = true
				counts[tok]++
			}
		}
	}
	var common []string
	for _, tok := range tokens(reasons[0]) {
		if counts[tok] == len(reasons) {
			common = append(common, tok)
		}
	}
	if len(common) == 0 {
		return kebab(rule)
	}
	return strings.Join(common, "-")
}

// tokens lowercases and splits a reason into name-worthy words.
func tokens(s string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) >= minTokenLen && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func kebab(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "-")
}
