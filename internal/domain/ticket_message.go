package domain

import "time"

// Message is a single entry of a ticket conversation as seen by the transcript generator.
type Message struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []Attachment
	Cards       []Card
	CreatedAt   time.Time
}

// Attachment describes a file posted in the conversation.
type Attachment struct {
	FileName  string
	SizeBytes int64
}

// Card is a structured message (embed) with a title and fields.
type Card struct {
	Title       string
	Description string
	Fields      []CardField
}

// CardField is a name/value pair inside a card.
type CardField struct {
	Name  string
	Value string
}
