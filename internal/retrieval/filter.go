package retrieval

import (
	"regexp"

	"github.com/prodlens/backend/internal/models"
)

var categoryCues = map[models.Category]*regexp.Regexp{
	models.CategoryMonitor:  regexp.MustCompile(`(?i)\b(monitors?|displays?|screens?)\b`),
	models.CategoryMouse:    regexp.MustCompile(`(?i)\b(mouse|mice)\b`),
	models.CategoryKeyboard: regexp.MustCompile(`(?i)\b(keyboards?|keycaps?)\b`),
}

// InferFilter narrows the search to a category when the query mentions
// exactly one.
func InferFilter(query string) Filter {
	var found []models.Category
	for _, c := range []models.Category{models.CategoryMonitor, models.CategoryMouse, models.CategoryKeyboard} {
		if categoryCues[c].MatchString(query) {
			found = append(found, c)
		}
	}
	if len(found) == 1 {
		return Filter{Category: found[0]}
	}
	return Filter{}
}
