package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticketbot/internal/domain"
)

type categoriesFile struct {
	Categories []domain.Category `yaml:"categories"`
}

// LoadCategories reads the category picker definition. An empty path yields the defaults.
func LoadCategories(path string) ([]domain.Category, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCategories(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return ParseCategories(raw)
}

// ParseCategories decodes a YAML category list and validates it.
func ParseCategories(raw []byte) ([]domain.Category, error) {
	var file categoriesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("categories: at least one category required")
	}
	seen := make(map[string]struct{}, len(file.Categories))
	for i := range file.Categories {
		c := &file.Categories[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("categories[%d]: name required", i)
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("categories[%d]: duplicate name %q", i, c.Name)
		}
		seen[key] = struct{}{}
		// Discord modals hold at most five inputs.
		if len(c.Fields) > 5 {
			return nil, fmt.Errorf("category %q: at most 5 form fields", c.Name)
		}
		for j := range c.Fields {
			f := &c.Fields[j]
			if strings.TrimSpace(f.Label) == "" {
				return nil, fmt.Errorf("category %q field %d: label required", c.Name, j)
			}
			if f.MaxLength <= 0 {
				f.MaxLength = 1000
			}
		}
	}
	return file.Categories, nil
}

func shortDescription() domain.FormField {
	return domain.FormField{
		Label:       "Short Description",
		Placeholder: "Briefly describe the reason for your ticket...",
		Required:    true,
		MaxLength:   200,
	}
}

// DefaultCategories mirrors the picker shipped with the bot.
func DefaultCategories() []domain.Category {
	return []domain.Category{
		{
			Name: "General Support", Emoji: "❓", Description: "Get help with general questions",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "How can we help you?", Placeholder: "Describe your question or issue...", Paragraph: true, Required: true, MaxLength: 1000},
			},
		},
		{
			Name: "Resource Issue", Emoji: "📁", Description: "Report issues with resources",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "Resource Title (Optional)", Placeholder: "Name of the resource with the issue", MaxLength: 100},
				{Label: "Issue Description", Placeholder: "Please describe the issue in detail...", Paragraph: true, Required: true, MaxLength: 2000},
			},
		},
		{
			Name: "Partner- or sponsorship", Emoji: "🤝", Description: "Partnership or sponsorship inquiries",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "Organization/Channel Name", Placeholder: "Your organization or channel name", Required: true, MaxLength: 100},
				{Label: "Discord/YouTube/Twitch Link", Placeholder: "https://discord.gg/...", Required: true, MaxLength: 200},
				{Label: "Partnership/Sponsorship Details", Placeholder: "Tell us about your proposal...", Paragraph: true, Required: true, MaxLength: 2000},
			},
		},
		{
			Name: "Staff Application - if open", Emoji: "👥", Description: "Apply to join our staff team",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "Full Name", Placeholder: "Your full name", Required: true, MaxLength: 100},
				{Label: "Age", Placeholder: "Your age", Required: true, MaxLength: 3},
				{Label: "Timezone", Placeholder: "Example: EST, PST, GMT+2, etc.", Required: true, MaxLength: 50},
				{Label: "Why do you want to join our staff team?", Paragraph: true, Required: true, MaxLength: 1000},
			},
		},
		{
			Name: "Bug Report", Emoji: "🐛", Description: "Report bugs or technical issues",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "On what page did the bug occur?", Placeholder: "e.g. /dashboard, /login, ...", Required: true, MaxLength: 100},
				{Label: "What browser are you using?", Placeholder: "e.g. Chrome, Firefox, Safari, ...", Required: true, MaxLength: 100},
				{Label: "Steps to Reproduce", Placeholder: "Describe the steps to reproduce the bug...", Paragraph: true, Required: true, MaxLength: 2000},
				{Label: "Expected Behavior", Placeholder: "What did you expect to happen?", Required: true, MaxLength: 500},
			},
		},
		{
			Name: "Content Creator", Emoji: "🎥", Description: "Content creator collaboration",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "Channel Name", Placeholder: "Your channel name", Required: true, MaxLength: 100},
				{Label: "Channel URL", Placeholder: "https://youtube.com/... or https://twitch.tv/...", Required: true, MaxLength: 200},
				{Label: "Subscriber/Followers Count", Placeholder: "Example: 10K", Required: true, MaxLength: 50},
				{Label: "Collaboration Ideas", Placeholder: "What kind of collaboration are you interested in?", Paragraph: true, Required: true, MaxLength: 1000},
			},
		},
		{
			Name: "Other", Emoji: "📝", Description: "Other inquiries",
			Fields: []domain.FormField{
				shortDescription(),
				{Label: "Subject", Placeholder: "Briefly describe what this is about", Required: true, MaxLength: 200},
				{Label: "Details", Placeholder: "Please provide more details about your inquiry...", Paragraph: true, Required: true, MaxLength: 2000},
			},
		},
	}
}
