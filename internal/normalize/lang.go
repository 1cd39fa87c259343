package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

var langAliases = map[string]string{
	"indonesia":        "id",
	"indonesian":       "id",
	"bahasa":           "id",
	"bahasa indonesia": "id",
	"ind":              "id",
	"in":               "id",
	"english":          "en",
	"inggris":          "en",
	"eng":              "en",
}

// InferLang derives a two-letter language code from the first non-empty hint.
func InferLang(hints ...string) string {
	for _, hint := range hints {
		hint = strings.ToLower(strings.TrimSpace(hint))
		if hint == "" {
			continue
		}
		return inferLang(hint)
	}
	return ""
}

func inferLang(hint string) string {
	if code, ok := langAliases[hint]; ok {
		return code
	}
	switch {
	case strings.Contains(hint, "indonesia"), strings.Contains(hint, "bahasa"):
		return "id"
	case strings.Contains(hint, "english"), strings.Contains(hint, "inggris"):
		return "en"
	}
	if tag, err := language.Parse(hint); err == nil {
		if base, conf := tag.Base(); conf != language.No {
			if code := base.String(); len(code) == 2 {
				return code
			}
		}
	}

	letters := make([]rune, 0, 2)
	for _, r := range hint {
		if !unicode.IsLetter(r) {
			continue
		}
		letters = append(letters, r)
		if len(letters) == 2 {
			break
		}
	}
	return string(letters)
}
