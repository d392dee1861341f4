package domain

import "strings"

// FormField is one question of a category intake form.
type FormField struct {
	Label       string `yaml:"label"`
	Placeholder string `yaml:"placeholder"`
	Paragraph   bool   `yaml:"paragraph"`
	Required    bool   `yaml:"required"`
	MaxLength   int    `yaml:"max_length"`
}

// Category is a ticket category offered by the picker.
type Category struct {
	Name        string      `yaml:"name"`
	Emoji       string      `yaml:"emoji"`
	Description string      `yaml:"description"`
	Fields      []FormField `yaml:"fields"`
}

// FindCategory returns the category with the given name (case-insensitive).
func FindCategory(categories []Category, name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Category{}, false
}

// FormAnswer is a submitted answer to a form field.
type FormAnswer struct {
	Label string `json:"label"`
	Value string `json:"value"`
}
