// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Replicator propagates moderation decisions between a site's
// moderation room and its comment rooms. Bans seen in a comment room
// flow back to the moderation room; bans and power-level changes seen
// in a moderation room fan out to every comment room of the site.
//
// The fan-out walks every room the bot has joined and resolves each
// room's canonical alias, so it costs O(joined rooms) per event. That
// is fine at the number of rooms one instance manages and is a known
// limit of the design, not something to optimize here.
type Replicator struct {
	dir Directory
	ns  *Namespace
	log zerolog.Logger
}

// NewReplicator creates a Replicator.
func NewReplicator(dir Directory, ns *Namespace, log zerolog.Logger) *Replicator {
	return &Replicator{
		dir: dir,
		ns:  ns,
		log: log.With().Str("component", "replicator").Logger(),
	}
}

// ReplicateBan mirrors a ban observed in roomID to the room's peers.
// Rooms without a canonical alias, or with an alias outside our
// namespace, are not ours to manage and are skipped.
func (r *Replicator) ReplicateBan(ctx context.Context, roomID id.RoomID, target id.UserID) error {
	alias, err := r.dir.CanonicalAlias(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	log := r.log.With().
		Str("room_id", string(roomID)).
		Str("alias", string(alias)).
		Str("banned_user", string(target)).
		Logger()

	switch r.ns.Parse(alias).Role {
	case RoleComment:
		// Forward: one ban call into the site's moderation room.
		modAlias := r.ns.ModerationAliasOf(alias)
		modRoomID, err := r.dir.ResolveAlias(ctx, modAlias)
		if err != nil {
			return err
		}
		log.Info().Str("moderation_alias", string(modAlias)).Msg("Replicating ban to moderation room")
		return r.dir.BanUser(ctx, modRoomID, target)
	case RoleModeration:
		log.Info().Msg("Replicating ban to comment rooms")
		return r.fanOut(ctx, log, alias, "ban", func(ctx context.Context, sibling id.RoomID) error {
			return r.dir.BanUser(ctx, sibling, target)
		})
	default:
		return nil
	}
}

// ReplicatePowerLevels overwrites every sibling comment room's power
// levels with the given content. Only changes originating in a
// moderation room are replicated; comment room power levels are never
// an authority. The copy is a full replace, so per-room overrides in
// comment rooms are clobbered on purpose.
func (r *Replicator) ReplicatePowerLevels(ctx context.Context, roomID id.RoomID, levels *event.PowerLevelsEventContent) error {
	alias, err := r.dir.CanonicalAlias(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if r.ns.Parse(alias).Role != RoleModeration {
		return nil
	}
	log := r.log.With().
		Str("room_id", string(roomID)).
		Str("alias", string(alias)).
		Logger()
	log.Info().Msg("Replicating power levels to comment rooms")
	return r.fanOut(ctx, log, alias, "power_levels", func(ctx context.Context, sibling id.RoomID) error {
		return r.dir.SetPowerLevels(ctx, sibling, levels)
	})
}

// fanOut applies an action to every joined room that shares the
// moderation alias's site, excluding the moderation room itself.
// Targets are processed one at a time in listing order; a failed
// target is logged and the rest still run.
func (r *Replicator) fanOut(ctx context.Context, log zerolog.Logger, modAlias id.RoomAlias, what string, apply func(ctx context.Context, roomID id.RoomID) error) error {
	joined, err := r.dir.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	for _, roomID := range joined {
		alias, err := r.dir.CanonicalAlias(ctx, roomID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Warn().Err(err).Str("target_room_id", string(roomID)).Msg("Failed to resolve fan-out target alias")
			}
			continue
		}
		if !r.ns.SameSite(modAlias, alias) {
			continue
		}
		replicationTargets.WithLabelValues(what).Inc()
		if err := apply(ctx, roomID); err != nil {
			log.Warn().Err(err).
				Str("target_room_id", string(roomID)).
				Str("target_alias", string(alias)).
				Msg("Failed to replicate to comment room")
		}
	}
	return nil
}
