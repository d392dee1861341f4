// Package codec serializes ticket metadata into the single text field a
// conversation channel carries (its topic).
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

const (
	// Tag marks a channel topic as ticket metadata.
	Tag = "tkt:"
	// currentVersion is bumped whenever the wire layout changes incompatibly.
	currentVersion = "v1"
	// MaxTopicLength is the platform limit of the channel topic field.
	MaxTopicLength = 1024
)

// ErrNotTicket is returned for channels whose topic is absent or unrelated.
// It is not a failure: such channels are simply not tickets.
var ErrNotTicket = errors.New("channel topic does not carry ticket metadata")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	b64     = base64.RawURLEncoding
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// wireTicket is the encoded layout. Integer keys keep the payload small.
type wireTicket struct {
	ID           string `cbor:"1,keyasint"`
	RequesterID  string `cbor:"2,keyasint"`
	Category     string `cbor:"3,keyasint"`
	Closed       bool   `cbor:"4,keyasint,omitempty"`
	Priority     uint8  `cbor:"5,keyasint"`
	ClaimedBy    string `cbor:"6,keyasint,omitempty"`
	CreatedAt    int64  `cbor:"7,keyasint"`
	LastActivity int64  `cbor:"8,keyasint"`
	ClosedAt     *int64 `cbor:"9,keyasint,omitempty"`
	ClosedBy     string `cbor:"10,keyasint,omitempty"`
	CloseReason  string `cbor:"11,keyasint,omitempty"`
	CloseType    uint8  `cbor:"12,keyasint,omitempty"`
	Version      uint64 `cbor:"13,keyasint,omitempty"`
}

var priorityCodes = map[domain.TicketPriority]uint8{
	domain.TicketPriorityLow:    1,
	domain.TicketPriorityNormal: 2,
	domain.TicketPriorityHigh:   3,
	domain.TicketPriorityUrgent: 4,
}

var closeTypeCodes = map[domain.CloseType]uint8{
	domain.CloseTypeConfirmed:   1,
	domain.CloseTypeForceClosed: 2,
	domain.CloseTypeAutoClosed:  3,
	domain.CloseTypeMassClosed:  4,
}

// EncodeMetadata renders a ticket into its tagged topic form.
func EncodeMetadata(t *domain.Ticket) (string, error) {
	if err := t.Validate(); err != nil {
		return "", apperrors.NewValidationError("invalid ticket metadata", map[string]any{"reason": err.Error()})
	}
	w := wireTicket{
		ID:           t.ID,
		RequesterID:  t.RequesterID,
		Category:     t.Category,
		Closed:       t.Status == domain.TicketStatusClosed,
		Priority:     priorityCodes[t.Priority],
		ClaimedBy:    domain.StringValue(t.ClaimedBy),
		CreatedAt:    t.CreatedAt.UnixMilli(),
		LastActivity: t.LastActivityAt.UnixMilli(),
		ClosedBy:     domain.StringValue(t.ClosedBy),
		CloseReason:  domain.StringValue(t.CloseReason),
		Version:      t.Version,
	}
	if t.ClosedAt != nil {
		ms := t.ClosedAt.UnixMilli()
		w.ClosedAt = &ms
	}
	if t.CloseType != nil {
		w.CloseType = closeTypeCodes[*t.CloseType]
	}

	payload, err := encMode.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal ticket metadata: %w", err)
	}
	out := Tag + currentVersion + ":" + b64.EncodeToString(payload)
	if len(out) > MaxTopicLength {
		return "", apperrors.NewEncodingTooLarge(len(out), MaxTopicLength)
	}
	return out, nil
}

// IsTicketTopic reports whether a topic carries the ticket tag. It does not validate the payload.
func IsTicketTopic(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), Tag)
}

// DecodeMetadata parses a channel topic. Topics without the tag yield ErrNotTicket;
// tagged topics that cannot be parsed yield a CORRUPT_METADATA error.
func DecodeMetadata(raw string) (*domain.Ticket, error) {
	if !IsTicketTopic(raw) {
		return nil, ErrNotTicket
	}
	raw = strings.TrimSpace(raw)
	rest := strings.TrimPrefix(raw, Tag)
	version, body, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, apperrors.NewCorruptMetadata(errors.New("missing version separator"), nil)
	}
	if version != currentVersion {
		return nil, apperrors.NewCorruptMetadata(fmt.Errorf("unsupported version %q", version), nil)
	}
	payload, err := b64.DecodeString(body)
	if err != nil {
		return nil, apperrors.NewCorruptMetadata(err, map[string]any{"stage": "base64"})
	}

	var w wireTicket
	if err := decMode.Unmarshal(payload, &w); err != nil {
		return nil, apperrors.NewCorruptMetadata(err, map[string]any{"stage": "cbor"})
	}

	t := &domain.Ticket{
		ID:             w.ID,
		RequesterID:    w.RequesterID,
		Category:       w.Category,
		Status:         domain.TicketStatusOpen,
		ClaimedBy:      optional(w.ClaimedBy),
		CreatedAt:      time.UnixMilli(w.CreatedAt).UTC(),
		LastActivityAt: time.UnixMilli(w.LastActivity).UTC(),
		ClosedBy:       optional(w.ClosedBy),
		CloseReason:    optional(w.CloseReason),
		Version:        w.Version,
	}
	if w.Closed {
		t.Status = domain.TicketStatusClosed
	}
	for p, code := range priorityCodes {
		if code == w.Priority {
			t.Priority = p
		}
	}
	if w.ClosedAt != nil {
		closedAt := time.UnixMilli(*w.ClosedAt).UTC()
		t.ClosedAt = &closedAt
	}
	if w.CloseType != 0 {
		for ct, code := range closeTypeCodes {
			if code == w.CloseType {
				closeType := ct
				t.CloseType = &closeType
			}
		}
		if t.CloseType == nil {
			return nil, apperrors.NewCorruptMetadata(fmt.Errorf("unknown close type code %d", w.CloseType), nil)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, apperrors.NewCorruptMetadata(err, map[string]any{"stage": "validate"})
	}
	return t, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
