package units

import (
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ahrav/go-versus/internal/domain"
)

var titleCaser = cases.Title(language.English)

// GetTemplateFuncMap returns the function map shared by the poet and judge
// prompt templates. The functions are pure and safe for concurrent use.
//
//	tmpl, err := template.New("prompt").Funcs(GetTemplateFuncMap()).Parse(text)
func GetTemplateFuncMap() template.FuncMap {
	return template.FuncMap{
		// {{add $i 1}}
		"add": func(a, b int) int { return a + b },

		// clip keeps the first n runes of s.
		"clip": Clip,

		// {{criterionTitle "factual_grounding"}} renders "Factual Grounding".
		"criterionTitle": CriterionTitle,

		// {{percent 0.25}} renders 25.
		"percent": func(w float64) int { return int(w*100 + 0.5) },

		// poemContext renders accepted lines as "Line i: text".
		"poemContext": domain.FormatPoemContext,

		"upper": strings.ToUpper,
		"trim":  strings.TrimSpace,
		"join":  strings.Join,
	}
}

// Clip returns the first n runes of s. n <= 0 yields the empty string.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// CriterionTitle turns a criterion key such as "emotional_impact" into
// "Emotional Impact".
func CriterionTitle(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}
