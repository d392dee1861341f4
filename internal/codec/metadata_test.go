package codec

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

func randomTicket(r *rand.Rand) *domain.Ticket {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	created := time.UnixMilli(base + r.Int63n(1<<34)).UTC()
	t := &domain.Ticket{
		ID:             fmt.Sprintf("T%04d", r.Intn(10000)),
		RequesterID:    fmt.Sprintf("%d", 100000000000000000+r.Int63n(1<<50)),
		Category:       []string{"General Support", "Bug Report", "Other", "Partner- or sponsorship"}[r.Intn(4)],
		Status:         domain.TicketStatusOpen,
		Priority:       domain.Priorities[r.Intn(len(domain.Priorities))],
		CreatedAt:      created,
		LastActivityAt: created.Add(time.Duration(r.Int63n(1<<30)) * time.Millisecond),
		Version:        uint64(r.Intn(50)),
	}
	if r.Intn(2) == 0 {
		claimer := fmt.Sprintf("staff-%d", r.Intn(1000))
		t.ClaimedBy = &claimer
	}
	if r.Intn(2) == 0 {
		closeTypes := []domain.CloseType{
			domain.CloseTypeConfirmed, domain.CloseTypeForceClosed,
			domain.CloseTypeAutoClosed, domain.CloseTypeMassClosed,
		}
		t.Close(t.LastActivityAt.Add(time.Minute), fmt.Sprintf("closer-%d", r.Intn(1000)),
			strings.Repeat("why ", 1+r.Intn(40)), closeTypes[r.Intn(len(closeTypes))])
	}
	return t
}

func TestRoundTripProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		original := randomTicket(r)
		encoded, err := EncodeMetadata(original)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encoded, "tkt:v1:"))
		assert.LessOrEqual(t, len(encoded), MaxTopicLength)

		decoded, err := DecodeMetadata(encoded)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ticket := randomTicket(r)
	first, err := EncodeMetadata(ticket)
	require.NoError(t, err)
	second, err := EncodeMetadata(ticket.Clone())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeNotATicket(t *testing.T) {
	for _, topic := range []string{"", "Welcome to support!", "T0001", "  ticket: hello"} {
		_, err := DecodeMetadata(topic)
		assert.ErrorIs(t, err, ErrNotTicket, topic)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	cases := map[string]string{
		"no version":      "tkt:garbage",
		"unknown version": "tkt:v9:AAAA",
		"bad base64":      "tkt:v1:!!!",
		"bad cbor":        "tkt:v1:" + b64.EncodeToString([]byte{0xff, 0x00, 0x13}),
	}
	for name, topic := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMetadata(topic)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrCorruptMetadata)
			assert.NotErrorIs(t, err, ErrNotTicket)
		})
	}
}

func TestDecodeRejectsInvariantViolation(t *testing.T) {
	closedAt := time.Now().UnixMilli()
	payload, err := encMode.Marshal(wireTicket{
		ID: "T0001", RequesterID: "u1", Category: "Other", Priority: 2,
		CreatedAt: closedAt, LastActivity: closedAt, ClosedAt: &closedAt,
	})
	require.NoError(t, err)

	_, err = DecodeMetadata(Tag + currentVersion + ":" + b64.EncodeToString(payload))
	assert.ErrorIs(t, err, apperrors.ErrCorruptMetadata)
}

func TestEncodeTooLarge(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ticket := &domain.Ticket{
		ID: "T0001", RequesterID: "u1", Category: "Other",
		Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityNormal,
		CreatedAt: now, LastActivityAt: now,
	}
	ticket.Close(now, "staff", strings.Repeat("x", MaxTopicLength), domain.CloseTypeForceClosed)

	_, err := EncodeMetadata(ticket)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrEncodingTooLarge)
}

func TestEncodeRejectsInvalidTicket(t *testing.T) {
	_, err := EncodeMetadata(&domain.Ticket{ID: "T1", RequesterID: "u", Category: "c", Status: "bogus", Priority: "normal"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ticket := &domain.Ticket{
		ID: "T0001", RequesterID: "u1", Category: "bad\xff",
		Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityNormal,
		CreatedAt: now, LastActivityAt: now,
	}
	_, err := EncodeMetadata(ticket)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	ticket.Category = "Other"
	ticket.Close(now, "staff", "cut\xd0", domain.CloseTypeForceClosed)
	_, err = EncodeMetadata(ticket)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
