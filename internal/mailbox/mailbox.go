// Package mailbox routes asynchronous messages between the coordinator,
// groups of workers and individual runs.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

var (
	ErrAmbiguousRecipient = errors.New("message may target a run or a group, not both")
	ErrEmptyBody          = errors.New("message body is required")
	ErrNotFound           = store.ErrNotFound
	ErrNoSender           = errors.New("original message has no sender run to reply to")
	ErrInvalidType        = errors.New("invalid message type")
	ErrInvalidPriority    = errors.New("invalid priority")
)

var messageTypes = map[string]bool{
	models.TypeNotification: true,
	models.TypeStatusUpdate: true,
	models.TypeQuestion:     true,
	models.TypeBroadcast:    true,
	models.TypeTaskRequest:  true,
}

var priorities = map[string]bool{
	models.PriorityUrgent: true,
	models.PriorityNormal: true,
	models.PriorityLow:    true,
}

// Envelope is an outgoing message. Leave both ToRun and ToGroup empty to
// broadcast.
type Envelope struct {
	FromRun  string
	ToRun    string
	ToGroup  string
	Type     string
	Priority string
	Subject  string
	Body     string
	Metadata map[string]any
}

// Query selects messages for a reader; see store.InboxQuery for the rules.
type Query = store.InboxQuery

// Router stores and retrieves messages. It is safe for concurrent use; all
// state lives in the store.
type Router struct {
	store  store.MessageStore
	log    *slog.Logger
	now    func() time.Time
	notify func(models.Message)
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

// WithNotify registers a callback invoked after each message is stored.
func WithNotify(fn func(models.Message)) Option { return func(r *Router) { r.notify = fn } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// New returns a Router backed by st.
func New(st store.MessageStore, opts ...Option) *Router {
	r := &Router{store: st, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Send validates and stores env and returns the new message id.
func (r *Router) Send(ctx context.Context, env Envelope) (string, error) {
	m, err := r.build(env)
	if err != nil {
		return "", err
	}
	if err := r.store.InsertMessage(ctx, m); err != nil {
		return "", fmt.Errorf("mailbox: store message: %w", err)
	}
	r.log.Debug("message sent", "message_id", m.MessageID, "to_run", env.ToRun, "to_group", env.ToGroup, "type", m.MessageType)
	if r.notify != nil {
		r.notify(m)
	}
	return m.MessageID, nil
}

func (r *Router) build(env Envelope) (models.Message, error) {
	env.ToRun = strings.TrimSpace(env.ToRun)
	env.ToGroup = strings.TrimSpace(env.ToGroup)
	if env.ToRun != "" && env.ToGroup != "" {
		return models.Message{}, ErrAmbiguousRecipient
	}
	if strings.TrimSpace(env.Body) == "" {
		return models.Message{}, ErrEmptyBody
	}
	if env.Type == "" {
		env.Type = models.TypeNotification
	}
	if !messageTypes[env.Type] {
		return models.Message{}, fmt.Errorf("%w %q", ErrInvalidType, env.Type)
	}
	if env.Priority == "" {
		env.Priority = models.PriorityNormal
	}
	if !priorities[env.Priority] {
		return models.Message{}, fmt.Errorf("%w %q", ErrInvalidPriority, env.Priority)
	}
	return models.Message{
		MessageID:   uuid.NewString(),
		FromRunID:   optional(env.FromRun),
		ToRunID:     optional(env.ToRun),
		ToGroup:     optional(env.ToGroup),
		MessageType: env.Type,
		Priority:    env.Priority,
		Subject:     env.Subject,
		Body:        env.Body,
		Metadata:    env.Metadata,
		Status:      models.MessagePending,
		CreatedAt:   r.now(),
	}, nil
}

// Broadcast sends a message with no recipient, visible to every reader.
func (r *Router) Broadcast(ctx context.Context, fromRun, subject, body, priority string) (string, error) {
	return r.Send(ctx, Envelope{FromRun: fromRun, Type: models.TypeBroadcast, Priority: priority, Subject: subject, Body: body})
}

// CheckInbox returns matching messages oldest first. It does not change
// their status. Every match is returned unless q.Limit is positive.
func (r *Router) CheckInbox(ctx context.Context, q Query) ([]models.Message, error) {
	msgs, err := r.store.QueryInbox(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("mailbox: check inbox: %w", err)
	}
	return msgs, nil
}

// Get returns one message.
func (r *Router) Get(ctx context.Context, messageID string) (models.Message, error) {
	return r.store.GetMessage(ctx, messageID)
}

// MarkRead moves a pending message to read. Repeat calls, and calls on an
// acknowledged message, are no-ops. Unknown ids return ErrNotFound.
func (r *Router) MarkRead(ctx context.Context, messageID string) error {
	return r.store.MarkMessageRead(ctx, messageID, r.now())
}

// Acknowledge marks a message as handled.
func (r *Router) Acknowledge(ctx context.Context, messageID string) error {
	return r.store.AcknowledgeMessage(ctx, messageID, r.now())
}

// Reply answers messageID, addressed to the run that sent it. The original
// is marked read.
func (r *Router) Reply(ctx context.Context, messageID, fromRun, body string) (string, error) {
	orig, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if orig.FromRunID == nil || *orig.FromRunID == "" {
		return "", ErrNoSender
	}
	subject := orig.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	id, err := r.Send(ctx, Envelope{
		FromRun:  fromRun,
		ToRun:    *orig.FromRunID,
		Type:     models.TypeNotification,
		Priority: orig.Priority,
		Subject:  subject,
		Body:     body,
		Metadata: map[string]any{"reply_to": messageID},
	})
	if err != nil {
		return "", err
	}
	if err := r.MarkRead(ctx, messageID); err != nil {
		r.log.Warn("mark replied message read", "message_id", messageID, "err", err)
	}
	return id, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
