// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validate

import (
	"strings"
)

// MetadataPrefix marks argument keys that carry internal metadata rather
// than tool parameters. They are never validated and Repair copies them.
const MetadataPrefix = "_"

func isMetadata(key string) bool {
	return strings.HasPrefix(key, MetadataPrefix)
}

// Wildcard is the alias-table key that applies to every tool.
const Wildcard = "*"

// BuiltinAliases are the alias tables used unless configuration replaces them.
func BuiltinAliases() map[string]map[string]string {
	fileAliases := map[string]string{"path": "file_path", "filename": "file_path", "file": "file_path"}
	return map[string]map[string]string{
		Wildcard:     {"q": "query", "cmd": "command"},
		"read_file":  copyAliases(fileAliases),
		"write_file": copyAliases(fileAliases),
		"edit_file":  copyAliases(fileAliases),
	}
}

func copyAliases(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type matchKind int

const (
	matchNone matchKind = iota
	matchExact
	matchCaseInsensitive
	matchAlias
	matchFuzzy
)

func (k matchKind) String() string {
	switch k {
	case matchExact:
		return "exact"
	case matchCaseInsensitive:
		return "case-insensitive"
	case matchAlias:
		return "alias"
	case matchFuzzy:
		return "fuzzy"
	}
	return "none"
}

// resolver maps supplied keys onto one tool's declared parameters.
type resolver struct {
	schema  *ToolSchema
	aliases []map[string]string
}

func (v *Validator) resolver(s *ToolSchema) *resolver {
	r := &resolver{schema: s}
	if len(s.Aliases) > 0 {
		r.aliases = append(r.aliases, s.Aliases)
	}
	if m, ok := v.aliases[s.ToolID]; ok {
		r.aliases = append(r.aliases, m)
	}
	if m, ok := v.aliases[Wildcard]; ok {
		r.aliases = append(r.aliases, m)
	}
	return r
}

// strict resolves key by exact, case-insensitive or alias match against
// declared names accepted by allow.
func (r *resolver) strict(key string, allow func(string) bool) (string, matchKind) {
	if _, ok := r.schema.Param(key); ok && allow(key) {
		return key, matchExact
	}
	for _, p := range r.schema.Parameters {
		if strings.EqualFold(p.Name, key) && allow(p.Name) {
			return p.Name, matchCaseInsensitive
		}
	}
	lower := strings.ToLower(key)
	for _, table := range r.aliases {
		target, ok := table[key]
		if !ok {
			target, ok = table[lower]
		}
		if !ok {
			continue
		}
		if _, declared := r.schema.Param(target); declared && allow(target) {
			return target, matchAlias
		}
	}
	return "", matchNone
}

// fuzzy resolves key to a declared name accepted by allow when one is a
// prefix or suffix of the other, or their edit distance is at most 2,
// after lowercasing and removing separators. Keys shorter than three
// characters never match.
func (r *resolver) fuzzy(key string, allow func(string) bool) string {
	k := squash(key)
	if len(k) < 3 {
		return ""
	}
	for _, p := range r.schema.Parameters {
		if !allow(p.Name) {
			continue
		}
		n := squash(p.Name)
		if len(n) >= 3 && (strings.HasPrefix(n, k) || strings.HasSuffix(n, k) || strings.HasPrefix(k, n) || strings.HasSuffix(k, n)) {
			return p.Name
		}
	}
	best, bestDist := "", 3
	for _, p := range r.schema.Parameters {
		if !allow(p.Name) {
			continue
		}
		if d := levenshtein(k, squash(p.Name), bestDist); d < bestDist {
			best, bestDist = p.Name, d
		}
	}
	return best
}

func (r *resolver) resolve(key string, allow func(string) bool) (string, matchKind) {
	if target, kind := r.strict(key, allow); kind != matchNone {
		return target, kind
	}
	if target := r.fuzzy(key, allow); target != "" {
		return target, matchFuzzy
	}
	return "", matchNone
}

func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range strings.ToLower(s) {
		switch c {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// levenshtein returns the edit distance of a and b, or limit when it is at
// least limit.
func levenshtein(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	if d := len(ra) - len(rb); d >= limit || -d >= limit {
		return limit
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin >= limit {
			return limit
		}
		prev, cur = cur, prev
	}
	return min(prev[len(rb)], limit)
}
