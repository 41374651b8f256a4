// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Dispatcher routes the events of an inbound transaction to the
// provisioning, replication and command components. It holds no state
// between transactions; each event is classified by its typed payload
// and handled independently.
type Dispatcher struct {
	dir        Directory
	ns         *Namespace
	replicator *Replicator
	commands   *CommandInterpreter
	botID      id.UserID
	allowed    func(id.UserID) bool
	log        zerolog.Logger
}

// NewDispatcher creates a Dispatcher. The allowed predicate decides
// which senders may invite the bot and issue commands.
func NewDispatcher(dir Directory, ns *Namespace, replicator *Replicator, commands *CommandInterpreter, botID id.UserID, allowed func(id.UserID) bool, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		dir:        dir,
		ns:         ns,
		replicator: replicator,
		commands:   commands,
		botID:      botID,
		allowed:    allowed,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// HandleTransaction processes a batch of events in arrival order. The
// push protocol has no per-event failure signaling, so one event's
// failure is logged and never aborts the rest of the batch; the caller
// always acknowledges the transaction after this returns.
func (d *Dispatcher) HandleTransaction(ctx context.Context, txnID string, events []*event.Event) {
	log := d.log.With().Str("txn_id", txnID).Logger()
	log.Debug().Int("events", len(events)).Msg("Handling transaction")
	for _, evt := range events {
		if err := d.HandleEvent(ctx, evt); err != nil {
			log.Error().Err(err).
				Str("event_type", evt.Type.String()).
				Str("room_id", string(evt.RoomID)).
				Str("sender", string(evt.Sender)).
				Msg("Failed to handle event")
		}
	}
}

// HandleEvent classifies and handles a single event. Events sent by
// the bot itself are dropped first: replicated bans and power levels
// come back to us through the push API and must not trigger another
// replication round.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt *event.Event) error {
	if evt.Sender == d.botID {
		return nil
	}
	eventsHandled.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case event.StateMember:
		return d.handleMembership(ctx, evt)
	case event.StatePowerLevels:
		return d.replicator.ReplicatePowerLevels(ctx, evt.RoomID, evt.Content.AsPowerLevels())
	case event.EventMessage:
		return d.handleMessage(ctx, evt)
	default:
		return nil
	}
}

func (d *Dispatcher) handleMembership(ctx context.Context, evt *event.Event) error {
	target := id.UserID(evt.GetStateKey())
	switch evt.Content.AsMember().Membership {
	case event.MembershipInvite:
		if target != d.botID {
			return nil
		}
		if !d.allowed(evt.Sender) {
			d.log.Info().
				Str("room_id", string(evt.RoomID)).
				Str("sender", string(evt.Sender)).
				Msg("Rejecting invite from disallowed sender")
			return d.dir.LeaveRoom(ctx, evt.RoomID)
		}
		d.log.Info().
			Str("room_id", string(evt.RoomID)).
			Str("sender", string(evt.Sender)).
			Msg("Accepting invite")
		return d.dir.JoinRoom(ctx, evt.RoomID)
	case event.MembershipBan:
		return d.replicator.ReplicateBan(ctx, evt.RoomID, target)
	default:
		return nil
	}
}

// handleMessage forwards a text message to the command interpreter,
// unless the sender is disallowed or the room belongs to the comment
// namespace. Comments are never commands.
func (d *Dispatcher) handleMessage(ctx context.Context, evt *event.Event) error {
	content := evt.Content.AsMessage()
	if content.MsgType != event.MsgText {
		return nil
	}
	if !d.allowed(evt.Sender) {
		return nil
	}
	alias, err := d.dir.CanonicalAlias(ctx, evt.RoomID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to classify message room: %w", err)
	}
	if err == nil && d.ns.Parse(alias).Role != RoleForeign {
		return nil
	}
	return d.commands.HandleMessage(ctx, evt.RoomID, evt.Sender, content.Body)
}
