// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

// Taxonomy sentinels for directory failures. Everything else coming out
// of a Directory is an unexpected upstream error and keeps its text.
var (
	// ErrNotFound means the alias or state entry doesn't exist on the
	// homeserver.
	ErrNotFound = errors.New("not found in room directory")
	// ErrAliasInUse means room creation lost the alias-uniqueness race
	// or the alias was already registered.
	ErrAliasInUse = errors.New("room alias already in use")
)

// Directory is the outbound boundary to the homeserver's room
// directory and room state, as used by the provisioner, replicator and
// command interpreter. The homeserver's alias-uniqueness constraint is
// the only concurrency arbiter for room creation.
type Directory interface {
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error)
	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error)
	RoomState(ctx context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error)
	PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error)
	SetPowerLevels(ctx context.Context, roomID id.RoomID, levels *event.PowerLevelsEventContent) error
	CanonicalAlias(ctx context.Context, roomID id.RoomID) (id.RoomAlias, error)
	BanUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	JoinRoom(ctx context.Context, roomID id.RoomID) error
	LeaveRoom(ctx context.Context, roomID id.RoomID) error
	SendText(ctx context.Context, roomID id.RoomID, body string) error
	SendMarkdown(ctx context.Context, roomID id.RoomID, body string) error
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
}

// matrixDirectory implements Directory on top of a mautrix client
// authenticated as the appservice bot.
type matrixDirectory struct {
	client *mautrix.Client
}

var _ Directory = (*matrixDirectory)(nil)

// NewMatrixDirectory wraps a mautrix client as a Directory.
func NewMatrixDirectory(client *mautrix.Client) Directory {
	return &matrixDirectory{client: client}
}

func (d *matrixDirectory) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	resp, err := d.client.ResolveAlias(ctx, alias)
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve alias %s: %w", alias, err)
	}
	return resp.RoomID, nil
}

func (d *matrixDirectory) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	resp, err := d.client.CreateRoom(ctx, req)
	if err != nil {
		if errors.Is(err, mautrix.MRoomInUse) {
			return "", ErrAliasInUse
		}
		return "", fmt.Errorf("failed to create room %q: %w", req.RoomAliasName, err)
	}
	return resp.RoomID, nil
}

func (d *matrixDirectory) RoomState(ctx context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error) {
	state, err := d.client.State(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get state of %s: %w", roomID, err)
	}
	return state, nil
}

func (d *matrixDirectory) PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var levels event.PowerLevelsEventContent
	err := d.client.StateEvent(ctx, roomID, event.StatePowerLevels, "", &levels)
	if err != nil {
		return nil, fmt.Errorf("failed to get power levels of %s: %w", roomID, err)
	}
	return &levels, nil
}

func (d *matrixDirectory) SetPowerLevels(ctx context.Context, roomID id.RoomID, levels *event.PowerLevelsEventContent) error {
	_, err := d.client.SendStateEvent(ctx, roomID, event.StatePowerLevels, "", levels)
	if err != nil {
		return fmt.Errorf("failed to set power levels of %s: %w", roomID, err)
	}
	return nil
}

func (d *matrixDirectory) CanonicalAlias(ctx context.Context, roomID id.RoomID) (id.RoomAlias, error) {
	var content event.CanonicalAliasEventContent
	err := d.client.StateEvent(ctx, roomID, event.StateCanonicalAlias, "", &content)
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get canonical alias of %s: %w", roomID, err)
	}
	if content.Alias == "" {
		return "", ErrNotFound
	}
	return content.Alias, nil
}

func (d *matrixDirectory) BanUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	_, err := d.client.BanUser(ctx, roomID, &mautrix.ReqBanUser{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to ban %s from %s: %w", userID, roomID, err)
	}
	return nil
}

func (d *matrixDirectory) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	_, err := d.client.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to invite %s to %s: %w", userID, roomID, err)
	}
	return nil
}

func (d *matrixDirectory) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := d.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", roomID, err)
	}
	return nil
}

func (d *matrixDirectory) LeaveRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := d.client.LeaveRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to leave %s: %w", roomID, err)
	}
	return nil
}

func (d *matrixDirectory) SendText(ctx context.Context, roomID id.RoomID, body string) error {
	_, err := d.client.SendText(ctx, roomID, body)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	return nil
}

func (d *matrixDirectory) SendMarkdown(ctx context.Context, roomID id.RoomID, body string) error {
	content := format.RenderMarkdown(body, true, false)
	_, err := d.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	return nil
}

func (d *matrixDirectory) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := d.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}
