// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Provisioner creates comment-section rooms on demand when the
// homeserver queries one of our aliases. Creation is idempotent: losing
// the alias-uniqueness race to a concurrent query is treated as
// success, and the homeserver's uniqueness constraint is the only
// arbiter.
type Provisioner struct {
	dir   Directory
	ns    *Namespace
	botID id.UserID
	log   zerolog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(dir Directory, ns *Namespace, botID id.UserID, log zerolog.Logger) *Provisioner {
	return &Provisioner{
		dir:   dir,
		ns:    ns,
		botID: botID,
		log:   log.With().Str("component", "provisioner").Logger(),
	}
}

// ProvisionCommentRoom ensures the comment room behind an alias query
// exists. Comment rooms are only created under already-registered
// sites; the new room starts with a snapshot of the moderation room's
// power levels, ban list and membership. Any returned error means the
// alias query must be answered "not found".
func (p *Provisioner) ProvisionCommentRoom(ctx context.Context, alias id.RoomAlias) error {
	parsed := p.ns.Parse(alias)
	if parsed.Role != RoleComment {
		return fmt.Errorf("%w: alias %s has role %s", ErrNotFound, alias, parsed.Role)
	}
	log := p.log.With().
		Str("alias", string(alias)).
		Str("site", parsed.Site).
		Str("section", parsed.Section).
		Logger()

	modAlias := p.ns.ModerationAliasOf(alias)
	modRoomID, err := p.dir.ResolveAlias(ctx, modAlias)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Debug().Str("moderation_alias", string(modAlias)).Msg("Site not registered")
			return fmt.Errorf("%w: site %q is not registered", ErrNotFound, parsed.Site)
		}
		return err
	}

	levels, err := p.dir.PowerLevels(ctx, modRoomID)
	if err != nil {
		return err
	}

	roomID, err := p.dir.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility:         "private",
		RoomAliasName:      Localpart(alias),
		PowerLevelOverride: levels,
		InitialState: []*event.Event{
			{
				Type:    event.StateJoinRules,
				Content: event.Content{Parsed: &event.JoinRulesEventContent{JoinRule: event.JoinRulePublic}},
			},
			{
				Type:    event.StateGuestAccess,
				Content: event.Content{Parsed: &event.GuestAccessEventContent{GuestAccess: event.GuestAccessCanJoin}},
			},
			{
				Type:    event.StateHistoryVisibility,
				Content: event.Content{Parsed: &event.HistoryVisibilityEventContent{HistoryVisibility: event.HistoryVisibilityWorldReadable}},
			},
		},
	})
	if err != nil {
		if errors.Is(err, ErrAliasInUse) {
			// Someone else created it first, nothing left to do.
			log.Debug().Msg("Comment room already exists")
			return nil
		}
		return err
	}

	log.Info().Str("room_id", string(roomID)).Msg("Created comment room")
	roomsProvisioned.Inc()

	p.seedFromModerationRoom(ctx, log, modRoomID, roomID)
	return nil
}

// seedFromModerationRoom copies the moderation room's ban list onto a
// freshly created comment room and invites the moderation room's
// current members into it. Each target is best effort: one failed call
// is logged without failing the provisioning, and power levels were
// already set at creation time.
func (p *Provisioner) seedFromModerationRoom(ctx context.Context, log zerolog.Logger, modRoomID, roomID id.RoomID) {
	state, err := p.dir.RoomState(ctx, modRoomID)
	if err != nil {
		log.Warn().Err(err).
			Str("moderation_room_id", string(modRoomID)).
			Msg("Failed to fetch moderation room state for seeding")
		return
	}
	for stateKey, evt := range state[event.StateMember] {
		_ = evt.Content.ParseRaw(evt.Type)
		userID := id.UserID(stateKey)
		switch evt.Content.AsMember().Membership {
		case event.MembershipBan:
			if err := p.dir.BanUser(ctx, roomID, userID); err != nil {
				log.Warn().Err(err).Str("user_id", stateKey).Msg("Failed to copy ban to new comment room")
			}
		case event.MembershipJoin:
			if userID == p.botID {
				continue
			}
			if err := p.dir.InviteUser(ctx, roomID, userID); err != nil {
				log.Warn().Err(err).Str("user_id", stateKey).Msg("Failed to invite moderator to new comment room")
			}
		}
	}
}
