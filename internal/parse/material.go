package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Canonical material categories.
const (
	MaterialPlastic  = "plastic"
	MaterialTin      = "tin"
	MaterialRejected = "rejected"
)

// MaxSessionItems bounds the items of one category in a single session.
const MaxSessionItems = 100000

var spaceRe = regexp.MustCompile(`[\s_-]+`)

var materialAliases = map[string]string{
	"plastic":        MaterialPlastic,
	"plasticbottle":  MaterialPlastic,
	"plasticbottles": MaterialPlastic,
	"plasticcount":   MaterialPlastic,
	"bottle":         MaterialPlastic,
	"tin":            MaterialTin,
	"tincan":         MaterialTin,
	"tincans":        MaterialTin,
	"tincount":       MaterialTin,
	"can":            MaterialTin,
	"glass":          MaterialTin,
	"glasscount":     MaterialTin,
	"rejected":       MaterialRejected,
	"rejectedcount":  MaterialRejected,
	"reject":         MaterialRejected,
}

// Material folds the names used by the app and the firmware onto the
// canonical categories. Unknown names are lowercased with any "Count"
// suffix removed.
func Material(name string) string {
	key := strings.ToLower(spaceRe.ReplaceAllString(strings.TrimSpace(name), ""))
	if m, ok := materialAliases[key]; ok {
		return m
	}
	if trimmed := strings.TrimSuffix(key, "count"); trimmed != "" {
		return trimmed
	}
	return key
}

// NormalizeCounts merges counts by canonical category and drops zero entries.
func NormalizeCounts(counts map[string]int) (map[string]int, error) {
	out := make(map[string]int, len(counts))
	for name, n := range counts {
		if n < 0 {
			return nil, fmt.Errorf("negative count %d for %q", n, name)
		}
		if n == 0 {
			continue
		}
		m := Material(name)
		if m == "" {
			return nil, fmt.Errorf("empty material name")
		}
		if n > MaxSessionItems || out[m] > MaxSessionItems-n {
			return nil, fmt.Errorf("count for %q exceeds %d items", m, MaxSessionItems)
		}
		out[m] += n
	}
	return out, nil
}

func isCountField(name string) bool {
	key := strings.ToLower(name)
	_, known := materialAliases[key]
	return known || strings.HasSuffix(key, "count")
}

// SessionData decodes a device session report. Both the flat firmware shape
// {"plasticCount":3,"tinCount":1} and {"counts":{"plastic":3}} are accepted;
// fields that are not material counts, such as "userId", are ignored.
func SessionData(raw []byte) (map[string]int, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid session data: %w", err)
	}
	if nested, ok := doc["counts"]; ok {
		var counts map[string]int
		if err := json.Unmarshal(nested, &counts); err != nil {
			return nil, fmt.Errorf("invalid counts: %w", err)
		}
		return NormalizeCounts(counts)
	}

	counts := make(map[string]int)
	for k, v := range doc {
		if !isCountField(k) {
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			continue
		}
		if n > MaxSessionItems {
			return nil, fmt.Errorf("count %q exceeds %d items", k, MaxSessionItems)
		}
		if n != float64(int(n)) {
			return nil, fmt.Errorf("count %q is not a whole number", k)
		}
		counts[k] = int(n)
	}
	return NormalizeCounts(counts)
}
