// Package transcript renders the plain-text record of a ticket conversation.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// DefaultLimit caps how many messages are rendered when no limit is configured.
const DefaultLimit = 1000

const timeLayout = "2006-01-02 15:04:05 UTC"

// History is the conversation fetched from the platform.
type History struct {
	Messages []domain.Message
	// Truncated is set when the platform returned fewer messages than exist.
	Truncated bool
	// Unavailable is set when history could not be fetched at all.
	Unavailable bool
}

// Result is a rendered transcript.
type Result struct {
	Content      string
	MessageCount int
	Truncated    bool
}

// FileName returns the attachment name used for a ticket transcript.
func FileName(t domain.Ticket) string {
	return fmt.Sprintf("ticket-%s-transcript.txt", t.ID)
}

// Render produces the transcript of t. Equal inputs give byte-identical output.
// Only the most recent limit messages are kept.
func Render(t domain.Ticket, h History, limit int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	msgs := h.Messages
	truncated := h.Truncated
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
		truncated = true
	}

	var b strings.Builder
	writeHeader(&b, t, len(msgs), truncated, h.Unavailable, limit)
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n\n")

	if h.Unavailable {
		b.WriteString("Conversation history could not be retrieved.\n")
	}
	for _, m := range msgs {
		writeMessage(&b, m)
	}

	return Result{Content: b.String(), MessageCount: len(msgs), Truncated: truncated}
}

func writeHeader(b *strings.Builder, t domain.Ticket, count int, truncated, unavailable bool, limit int) {
	field := func(name, value string) {
		fmt.Fprintf(b, "%-15s %s\n", name+":", value)
	}

	fmt.Fprintf(b, "Transcript for ticket %s\n\n", t.ID)
	field("Category", t.Category)
	field("Requester", t.RequesterID)
	field("Claimed by", orDash(domain.StringValue(t.ClaimedBy)))
	field("Priority", string(t.Priority))
	field("Status", string(t.Status))
	field("Created", formatTime(t.CreatedAt))
	field("Last activity", formatTime(t.LastActivityAt))
	if t.ClosedAt != nil {
		field("Closed", formatTime(*t.ClosedAt))
	}
	if t.ClosedBy != nil {
		field("Closed by", *t.ClosedBy)
	}
	if t.CloseReason != nil {
		field("Close reason", *t.CloseReason)
	}
	if t.CloseType != nil {
		field("Close type", string(*t.CloseType))
	}
	field("Messages", fmt.Sprintf("%d", count))
	switch {
	case unavailable:
		field("Note", "history unavailable")
	case truncated:
		field("Note", fmt.Sprintf("truncated to the most recent %d messages", limit))
	}
}

func writeMessage(b *strings.Builder, m domain.Message) {
	author := m.AuthorName
	if author == "" {
		author = "unknown"
	}
	fmt.Fprintf(b, "[%s] %s (%s): %s\n", formatTime(m.CreatedAt), author, m.AuthorID, m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(b, "    [attachment] %s (%s)\n", a.FileName, humanize.Bytes(uint64(max(a.SizeBytes, 0))))
	}
	for _, c := range m.Cards {
		fmt.Fprintf(b, "    [card] %s\n", c.Title)
		if c.Description != "" {
			fmt.Fprintf(b, "        %s\n", c.Description)
		}
		for _, f := range c.Fields {
			fmt.Fprintf(b, "        %s: %s\n", f.Name, f.Value)
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
