package importer

import "strings"

// Similarity scores how alike two identifying strings are, in [0, 1],
// using trigram Jaccard similarity over normalized text.
func Similarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ta := trigrams(a)
	tb := trigrams(b)
	intersection := 0
	for tri := range ta {
		if _, ok := tb[tri]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// normalize lowercases and collapses whitespace for matching.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// trigrams creates the set of trigrams for a string, padded with spaces
// at start and end for better prefix/suffix matching.
func trigrams(s string) map[string]struct{} {
	tris := make(map[string]struct{})
	padded := "  " + s + "  "
	runes := []rune(padded)
	for i := 0; i <= len(runes)-3; i++ {
		tri := string(runes[i : i+3])
		if strings.TrimSpace(tri) != "" {
			tris[tri] = struct{}{}
		}
	}
	return tris
}
