// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const helpMessage = `Hi, I'm the comments bot 🌵

Commands:

- ` + "`register <site-name>`" + `: register a new site and create its moderation room
- ` + "`help`" + `: show this message

Every comment section of a registered site mirrors the bans and power
levels of the site's moderation room.`

const moderationRoomWelcome = `This is the moderation room for site %q 🚀

Users banned here are banned from every comment section of the site,
and power-level changes made here apply to all of them as well. Invite
your moderators to this room.`

// CommandInterpreter turns chat messages addressed to the bot into
// site registrations. It only ever sees messages the dispatcher has
// already vetted (allowed sender, room outside the comment namespace).
type CommandInterpreter struct {
	dir   Directory
	ns    *Namespace
	botID id.UserID
	log   zerolog.Logger
}

// NewCommandInterpreter creates a CommandInterpreter.
func NewCommandInterpreter(dir Directory, ns *Namespace, botID id.UserID, log zerolog.Logger) *CommandInterpreter {
	return &CommandInterpreter{
		dir:   dir,
		ns:    ns,
		botID: botID,
		log:   log.With().Str("component", "commands").Logger(),
	}
}

// HandleMessage interprets one text message. Bodies that aren't a
// recognized command are ignored without error; anything can be said
// in a room the bot is in.
func (c *CommandInterpreter) HandleMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, body string) error {
	fields := strings.Fields(body)
	switch {
	case len(fields) == 1 && fields[0] == "help":
		commandsHandled.WithLabelValues("help").Inc()
		return c.dir.SendMarkdown(ctx, roomID, helpMessage)
	case len(fields) == 2 && fields[0] == "register":
		return c.registerSite(ctx, roomID, sender, fields[1])
	default:
		return nil
	}
}

// registerSite creates the moderation room for a new site. The
// requesting user is invited and gets the same top power level as the
// bot, so they can moderate and invite others.
func (c *CommandInterpreter) registerSite(ctx context.Context, roomID id.RoomID, sender id.UserID, name string) error {
	log := c.log.With().
		Str("room_id", string(roomID)).
		Str("sender", string(sender)).
		Str("site", name).
		Logger()

	if !c.ns.ValidSiteName(name) {
		log.Debug().Msg("Rejected invalid site name")
		commandsHandled.WithLabelValues("register_invalid").Inc()
		return c.dir.SendText(ctx, roomID,
			fmt.Sprintf("Site names cannot contain %q. Pick another name and try again.", c.ns.Delimiter))
	}

	modRoomID, err := c.dir.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility:    "private",
		RoomAliasName: c.ns.ModerationLocalpart(name),
		Name:          fmt.Sprintf("%s moderation", name),
		Invite:        []id.UserID{sender},
		PowerLevelOverride: &event.PowerLevelsEventContent{
			Users: map[id.UserID]int{
				c.botID: 100,
				sender:  100,
			},
		},
	})
	if err != nil {
		if errors.Is(err, ErrAliasInUse) {
			log.Debug().Msg("Site name already registered")
			commandsHandled.WithLabelValues("register_taken").Inc()
			return c.dir.SendText(ctx, roomID,
				fmt.Sprintf("The site name %q is unavailable. Pick another name and try again.", name))
		}
		log.Error().Err(err).Msg("Failed to create moderation room")
		commandsHandled.WithLabelValues("register_failed").Inc()
		return c.dir.SendText(ctx, roomID,
			fmt.Sprintf("Failed to register site %q: %s", name, err))
	}

	log.Info().Str("moderation_room_id", string(modRoomID)).Msg("Registered site")
	commandsHandled.WithLabelValues("register_ok").Inc()

	if err := c.dir.SendText(ctx, roomID, fmt.Sprintf("Created site %s for you 🚀", name)); err != nil {
		return err
	}
	return c.dir.SendMarkdown(ctx, modRoomID, fmt.Sprintf(moderationRoomWelcome, name))
}
