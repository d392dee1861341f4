package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticketbot/internal/domain"
)

func closedTicket() domain.Ticket {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	claimed := "staff1"
	t := domain.Ticket{
		ID:             "T0042",
		RequesterID:    "user1",
		Category:       "Bug Report",
		Status:         domain.TicketStatusOpen,
		Priority:       domain.TicketPriorityHigh,
		ClaimedBy:      &claimed,
		CreatedAt:      created,
		LastActivityAt: created.Add(time.Hour),
	}
	t.Close(created.Add(2*time.Hour), "staff1", "fixed in 1.2", domain.CloseTypeConfirmed)
	return t
}

func sampleHistory() History {
	base := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	return History{Messages: []domain.Message{
		{ID: "1", AuthorID: "user1", AuthorName: "Alice", Content: "the page crashes", CreatedAt: base,
			Attachments: []domain.Attachment{{FileName: "crash.png", SizeBytes: 1536}}},
		{ID: "2", AuthorID: "bot", AuthorName: "ticketbot", CreatedAt: base.Add(time.Minute),
			Cards: []domain.Card{{Title: "Bug Report", Fields: []domain.CardField{{Name: "Browser", Value: "Firefox"}}}}},
		{ID: "3", AuthorID: "staff1", AuthorName: "Bob", Content: "looking into it", CreatedAt: base.Add(2 * time.Minute)},
	}}
}

func TestRenderIsDeterministic(t *testing.T) {
	first := Render(closedTicket(), sampleHistory(), 0)
	second := Render(closedTicket(), sampleHistory(), 0)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 3, first.MessageCount)
	assert.False(t, first.Truncated)
}

func TestRenderHeaderAndRecords(t *testing.T) {
	out := Render(closedTicket(), sampleHistory(), 100).Content

	assert.True(t, strings.HasPrefix(out, "Transcript for ticket T0042\n"))
	for _, want := range []string{
		"Category:       Bug Report",
		"Claimed by:     staff1",
		"Priority:       high",
		"Status:         closed",
		"Closed:         2024-03-01 11:00:00 UTC",
		"Close reason:   fixed in 1.2",
		"Close type:     confirmed",
		"Messages:       3",
		"[2024-03-01 09:05:00 UTC] Alice (user1): the page crashes",
		"    [attachment] crash.png (1.5 kB)",
		"    [card] Bug Report",
		"        Browser: Firefox",
		"[2024-03-01 09:07:00 UTC] Bob (staff1): looking into it",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Note:")
	assert.Less(t, strings.Index(out, "Alice"), strings.Index(out, "Bob"))
}

func TestRenderKeepsMostRecentMessages(t *testing.T) {
	var h History
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		h.Messages = append(h.Messages, domain.Message{
			AuthorID: "u", AuthorName: "U", Content: fmt.Sprintf("message %d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	res := Render(closedTicket(), h, 4)
	require.True(t, res.Truncated)
	assert.Equal(t, 4, res.MessageCount)
	assert.Contains(t, res.Content, "truncated to the most recent 4 messages")
	assert.NotContains(t, res.Content, "message 5\n")
	assert.Contains(t, res.Content, "message 6\n")
	assert.Contains(t, res.Content, "message 9\n")
}

func TestRenderUnavailableHistory(t *testing.T) {
	res := Render(closedTicket(), History{Unavailable: true}, 10)
	assert.Contains(t, res.Content, "Note:           history unavailable")
	assert.Contains(t, res.Content, "Conversation history could not be retrieved.")
	assert.Zero(t, res.MessageCount)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "ticket-T0042-transcript.txt", FileName(closedTicket()))
}
