// Package platformtest provides an in-memory Platform for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// SentMessage records a delivered message.
type SentMessage struct {
	ChannelID string
	UserID    string
	Message   platform.OutgoingMessage
	Files     map[string]string
}

// Fake is a concurrency-safe in-memory chat platform.
type Fake struct {
	mu       sync.Mutex
	selfID   string
	nextID   int
	channels map[string]*platform.Channel
	access   map[string]map[string]bool
	history  map[string][]domain.Message
	sent     []SentMessage
	dms      []SentMessage
	guilds   []string
	deletes  map[string]int
	edits    int
	reads    int

	// Failure injection. FailNextSends fails that many sends with a
	// transient error before succeeding again; SendErr fails every send.
	DeleteErr     error
	SendErr       error
	FailNextSends int
	HistoryErr    error
	EditTopicErr  error
	CreateErr     error
}

// New creates a fake platform hosting the given guilds.
func New(selfID string, guildIDs ...string) *Fake {
	f := &Fake{
		selfID:   selfID,
		channels: make(map[string]*platform.Channel),
		access:   make(map[string]map[string]bool),
		history:  make(map[string][]domain.Message),
		deletes:  make(map[string]int),
		guilds:   append([]string(nil), guildIDs...),
	}
	sort.Strings(f.guilds)
	return f
}

func (f *Fake) SelfID() string { return f.selfID }

func (f *Fake) Guilds(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.guilds...), nil
}

func (f *Fake) CreateChannel(ctx context.Context, guildID string, spec platform.ChannelSpec) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.nextID++
	ch := &platform.Channel{
		ID:       fmt.Sprintf("chan-%d", f.nextID),
		GuildID:  guildID,
		ParentID: spec.ParentID,
		Name:     spec.Name,
		Topic:    spec.Topic,
	}
	f.channels[ch.ID] = ch
	f.access[ch.ID] = make(map[string]bool)
	for _, ow := range spec.Overwrites {
		f.access[ch.ID][ow.TargetID] = ow.Allow
	}
	out := *ch
	return &out, nil
}

// AddChannel registers an unrelated channel (for example with a foreign topic).
func (f *Fake) AddChannel(guildID, name, topic string) *platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ch := &platform.Channel{ID: fmt.Sprintf("chan-%d", f.nextID), GuildID: guildID, Name: name, Topic: topic}
	f.channels[ch.ID] = ch
	out := *ch
	return &out
}

func (f *Fake) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, apperrors.NewNotFound("channel", map[string]any{"channel_id": channelID})
	}
	out := *ch
	return &out, nil
}

// CachedChannel serves the fake's own channel map, the way a gateway cache would.
func (f *Fake) CachedChannel(channelID string) (*platform.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, false
	}
	out := *ch
	return &out, true
}

// ChannelReads counts Channel calls, which stand for REST reads.
func (f *Fake) ChannelReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *Fake) GuildChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Channel
	for _, ch := range f.channels {
		if ch.GuildID == guildID {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) EditChannelTopic(ctx context.Context, channelID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditTopicErr != nil {
		return f.EditTopicErr
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return apperrors.NewNotFound("channel", map[string]any{"channel_id": channelID})
	}
	ch.Topic = topic
	f.edits++
	return nil
}

func (f *Fake) RenameChannel(ctx context.Context, channelID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return apperrors.NewNotFound("channel", map[string]any{"channel_id": channelID})
	}
	ch.Name = name
	return nil
}

func (f *Fake) SetMemberAccess(ctx context.Context, channelID, userID string, allow bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.access[channelID]; !ok {
		return apperrors.NewNotFound("channel", map[string]any{"channel_id": channelID})
	}
	f.access[channelID][userID] = allow
	return nil
}

// HasAccess reports the overwrite recorded for a member.
func (f *Fake) HasAccess(channelID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access[channelID][userID]
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendFailure(); err != nil {
		return "", err
	}
	if _, ok := f.channels[channelID]; !ok {
		return "", apperrors.NewNotFound("channel", map[string]any{"channel_id": channelID})
	}
	f.sent = append(f.sent, SentMessage{ChannelID: channelID, Message: msg, Files: readFiles(msg.Files)})
	id := fmt.Sprintf("msg-%d", len(f.sent))
	entry := domain.Message{ID: id, AuthorID: f.selfID, AuthorName: "ticketbot", Content: msg.Content, CreatedAt: time.Now().UTC()}
	if msg.Card != nil {
		entry.Cards = []domain.Card{*msg.Card}
	}
	f.history[channelID] = append(f.history[channelID], entry)
	return id, nil
}

func (f *Fake) SendDirectMessage(ctx context.Context, userID string, msg platform.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendFailure(); err != nil {
		return err
	}
	f.dms = append(f.dms, SentMessage{UserID: userID, Message: msg, Files: readFiles(msg.Files)})
	return nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes[channelID]++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.channels[channelID]; !ok {
		return apperrors.NewNotFound("channel", map[string]any{"channel_id": channelID})
	}
	delete(f.channels, channelID)
	delete(f.history, channelID)
	return nil
}

func (f *Fake) ChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	msgs := f.history[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

// Post simulates a participant message in a channel.
func (f *Fake) Post(channelID string, msg domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channelID] = append(f.history[channelID], msg)
}

// Sent returns messages delivered to channels.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// SentTo returns messages delivered to one channel.
func (f *Fake) SentTo(channelID string) []SentMessage {
	var out []SentMessage
	for _, m := range f.Sent() {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

// DirectMessages returns delivered direct messages.
func (f *Fake) DirectMessages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.dms...)
}

// DeleteCalls returns how many times deletion of a channel was requested.
func (f *Fake) DeleteCalls(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[channelID]
}

// TopicEdits returns the number of successful topic writes.
func (f *Fake) TopicEdits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits
}

// SetTopic overwrites a channel topic directly, bypassing the store.
func (f *Fake) SetTopic(channelID, topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		ch.Topic = topic
	}
}

func (f *Fake) sendFailure() error {
	if f.SendErr != nil {
		return f.SendErr
	}
	if f.FailNextSends > 0 {
		f.FailNextSends--
		return apperrors.NewPlatformUnavailable("send", errors.New("transient failure"))
	}
	return nil
}

func readFiles(files []platform.File) map[string]string {
	if len(files) == 0 {
		return nil
	}
	out := make(map[string]string, len(files))
	for _, file := range files {
		if file.Reader == nil {
			continue
		}
		data, _ := io.ReadAll(file.Reader)
		out[file.Name] = string(data)
	}
	return out
}

var (
	_ platform.Platform     = (*Fake)(nil)
	_ platform.ChannelCache = (*Fake)(nil)
)
