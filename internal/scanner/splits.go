package scanner

import (
	"strings"
	"unicode"
)

// splitLexicon maps normalized split-name variants to their canonical
// names. Directory and file names are lowercased and stripped of digits
// and separators before lookup, so "train2017", "VALID" and "test-2020"
// all resolve.
var splitLexicon = map[string]string{
	"train":      "train",
	"training":   "train",
	"val":        "val",
	"valid":      "val",
	"validation": "val",
	"validate":   "val",
	"test":       "test",
	"testing":    "test",
	"eval":       "test",
}

// NormalizeSplitName maps a directory name onto the canonical split set
// {train, val, test}. It returns false when the name is not a recognized
// split variant.
func NormalizeSplitName(name string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '_' || r == '-' || r == ' ' || r == '.' {
			return -1
		}
		return unicode.ToLower(r)
	}, name)

	canonical, ok := splitLexicon[cleaned]
	return canonical, ok
}

// splitNameFromFileName searches an annotation file name for a split
// token, e.g. "instances_train2017.json" resolves to "train". Longer
// variants are checked first so "validation" wins over "val".
var lexiconByLength = []string{
	"validation", "training", "validate", "testing", "valid", "train", "eval", "test", "val",
}

func splitNameFromFileName(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, token := range lexiconByLength {
		if strings.Contains(lower, token) {
			return splitLexicon[token], true
		}
	}
	return "", false
}
