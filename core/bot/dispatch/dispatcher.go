// Package dispatch routes one inbound message event through the conversation
// state machine: payload decode, pending-buffer claim, registry resolution,
// handler invocation and reply delivery. The dispatcher is stateless across
// events except through the pending buffer.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/artbot/core/bot/menu"
	"github.com/m3rciful/artbot/core/bot/payload"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/logger"
	"github.com/m3rciful/artbot/core/vk"
)

// Outcome classifies what one inbound event produced.
type Outcome int

const (
	// OutcomeBuffered means the message carried no payload and was parked
	// in the pending buffer; no reply was sent.
	OutcomeBuffered Outcome = iota
	// OutcomeReplied means a handler ran and its reply was sent.
	OutcomeReplied
	// OutcomeFault means a handler or delivery failed; the participant got
	// silence and any claimed batch stays consumed.
	OutcomeFault
)

// Event is one parsed inbound message.
type Event struct {
	PeerID      int64
	MessageID   int64
	Text        string
	Attachments []vk.Attachment
	// Payload is the raw button payload JSON, empty when the user typed
	// instead of pressing a button.
	Payload string
	// Cropped marks an event VK delivered truncated; the full message is
	// refetched before processing.
	Cropped bool
}

// SocialAPI is the slice of the VK client the dispatcher drives directly.
type SocialAPI interface {
	SendMessage(ctx context.Context, out vk.OutboundMessage) (int64, error)
	MarkRead(ctx context.Context, peerID int64) error
	FetchMessage(ctx context.Context, messageID int64) (*vk.Message, error)
}

// Users answers the registration check.
type Users interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

// Registry resolves action ids to menu handlers.
type Registry interface {
	Resolve(mid string) menu.Handler
	NewUser() menu.Handler
	Main() menu.Handler
}

// Dispatcher is the per-event state machine.
type Dispatcher struct {
	social   SocialAPI
	users    Users
	registry Registry
	buffer   *pending.Buffer
	restart  string
}

// New builds a dispatcher. restart is the reserved keyword that resets a
// conversation to the root menu.
func New(social SocialAPI, users Users, registry Registry, buffer *pending.Buffer, restart string) *Dispatcher {
	if restart == "" {
		restart = "restart"
	}
	return &Dispatcher{
		social:   social,
		users:    users,
		registry: registry,
		buffer:   buffer,
		restart:  restart,
	}
}

// Dispatch runs one inbound event to completion and reports what happened.
// Returned errors describe faults already logged and swallowed towards the
// participant; callers use them for bookkeeping only.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	ctx = logger.WithEventMeta(ctx, ev.PeerID, ev.MessageID)
	ctx = logger.WithRID(ctx, logger.BuildRID(ev.MessageID, ev.PeerID))
	start := time.Now()

	if ev.Cropped {
		full, err := d.social.FetchMessage(ctx, ev.MessageID)
		if err != nil {
			logger.Warn(ctx, "dispatch", "event.refetch_failed", slog.String("error", err.Error()))
		} else {
			ev.Text = full.Text
			ev.Attachments = full.Attachments
		}
	}

	// Every inbound event gets a read receipt, buffered ones included. It
	// runs alongside routing and the handler; its completion is awaited
	// before this event is accounted for.
	readDone := make(chan error, 1)
	go func() {
		readDone <- d.social.MarkRead(ctx, ev.PeerID)
	}()

	handler, req, outcome := d.route(ctx, ev)
	if handler == nil {
		if readErr := <-readDone; readErr != nil {
			logger.Warn(ctx, "dispatch", "event.mark_read_failed", slog.String("error", readErr.Error()))
		}
		logger.Debug(ctx, "dispatch", "event.buffered",
			slog.Int("pending_count", d.buffer.Len(ev.PeerID)),
		)
		return outcome, nil
	}

	reply, handlerErr := handler(ctx, req)

	var sendErr error
	if handlerErr == nil && reply != nil {
		out := vk.OutboundMessage{
			PeerID:     ev.PeerID,
			Text:       reply.Text,
			Attachment: strings.Join(reply.Attachments, ","),
			Keyboard:   reply.Keyboard,
		}
		_, sendErr = d.social.SendMessage(ctx, out)
	}

	if readErr := <-readDone; readErr != nil {
		logger.Warn(ctx, "dispatch", "event.mark_read_failed", slog.String("error", readErr.Error()))
	}

	switch {
	case handlerErr != nil:
		// The claimed batch is already consumed; the participant sees
		// silence for this event.
		logger.Warn(ctx, "dispatch", "handler.fault",
			slog.String("mid", req.Stack.MID()),
			slog.Int("batch", len(req.Batch)),
			slog.String("error", handlerErr.Error()),
		)
		return OutcomeFault, handlerErr
	case sendErr != nil:
		logger.Error(ctx, "dispatch", "reply.send_failed", slog.String("error", sendErr.Error()))
		return OutcomeFault, sendErr
	}

	logger.Debug(ctx, "dispatch", "event.done",
		slog.String("mid", req.Stack.MID()),
		slog.Int("batch", len(req.Batch)),
		slog.Duration("duration", logger.Took(start)),
	)
	return OutcomeReplied, nil
}

// route decides which handler runs for the event and assembles its request.
// A nil handler means the event was parked in the buffer.
func (d *Dispatcher) route(ctx context.Context, ev Event) (menu.Handler, *menu.Request, Outcome) {
	req := &menu.Request{
		Peer:        ev.PeerID,
		MessageID:   ev.MessageID,
		Text:        ev.Text,
		Attachments: ev.Attachments,
	}

	exists, err := d.users.UserExists(ctx, ev.PeerID)
	if err != nil {
		logger.Error(ctx, "dispatch", "user.lookup_failed", slog.String("error", err.Error()))
		// Without the registration answer nothing can be routed safely;
		// park the message so its content is not lost.
		d.buffer.Append(ev.PeerID, toPending(ev))
		return nil, nil, OutcomeBuffered
	}

	// Registration outranks navigation: an unknown participant always lands
	// on the welcome screen first.
	if !exists {
		req.Stack = payload.Stack{payload.NewFrame("new_user")}
		return d.registry.NewUser(), req, OutcomeReplied
	}

	if ev.Payload != "" {
		stack, err := payload.Decode([]byte(ev.Payload))
		if err == nil && len(stack) > 0 {
			req.Stack = stack
			req.Batch = d.buffer.Claim(ev.PeerID)
			return d.registry.Resolve(stack.MID()), req, OutcomeReplied
		}
		if errors.Is(err, payload.ErrMalformedPayload) {
			logger.Warn(ctx, "dispatch", "payload.malformed",
				slog.Int("payload_len", len(ev.Payload)),
			)
		}
		// Fall through: a broken payload is treated as no payload at all.
	}

	// The reserved keyword matches the message text exactly; "Restart" or a
	// padded variant is ordinary input and gets buffered like any other.
	if ev.Text == d.restart {
		req.Stack = payload.Stack{payload.NewFrame("main")}
		return d.registry.Main(), req, OutcomeReplied
	}

	d.buffer.Append(ev.PeerID, toPending(ev))
	return nil, nil, OutcomeBuffered
}

func toPending(ev Event) pending.Message {
	return pending.Message{
		PeerID:      ev.PeerID,
		MessageID:   ev.MessageID,
		Text:        ev.Text,
		Attachments: ev.Attachments,
		ReceivedAt:  time.Now(),
	}
}
