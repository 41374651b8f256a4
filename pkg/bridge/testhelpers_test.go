// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	testServer = "example.com"
	testBotID  = id.UserID("@comments:example.com")
)

func testNamespace() *Namespace {
	return &Namespace{Prefix: "comments_", Delimiter: "_", Server: testServer}
}

type banCall struct {
	RoomID id.RoomID
	UserID id.UserID
}

type textCall struct {
	RoomID id.RoomID
	Body   string
}

type levelsCall struct {
	RoomID id.RoomID
	Levels *event.PowerLevelsEventContent
}

// fakeDirectory is an in-memory Directory that simulates the
// homeserver's directory semantics (alias uniqueness on creation,
// creator auto-join, canonical alias assignment) and records every
// mutating call for assertions.
type fakeDirectory struct {
	mu sync.Mutex

	aliases     map[id.RoomAlias]id.RoomID
	canonical   map[id.RoomID]id.RoomAlias
	joined      []id.RoomID
	powerLevels map[id.RoomID]*event.PowerLevelsEventContent
	state       map[id.RoomID]mautrix.RoomStateMap

	// Error injection.
	createErr   error
	banErrs     map[id.RoomID]error
	resolveErr  error
	joinErr     error
	setLevelErr map[id.RoomID]error

	resolveCalls int
	created      []*mautrix.ReqCreateRoom
	bans         []banCall
	invites      []banCall
	joins        []id.RoomID
	leaves       []id.RoomID
	texts        []textCall
	markdowns    []textCall
	levelWrites  []levelsCall
}

var _ Directory = (*fakeDirectory)(nil)

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		aliases:     make(map[id.RoomAlias]id.RoomID),
		canonical:   make(map[id.RoomID]id.RoomAlias),
		powerLevels: make(map[id.RoomID]*event.PowerLevelsEventContent),
		state:       make(map[id.RoomID]mautrix.RoomStateMap),
		banErrs:     make(map[id.RoomID]error),
		setLevelErr: make(map[id.RoomID]error),
	}
}

// addRoom registers an existing room with an alias, marking it joined.
func (f *fakeDirectory) addRoom(alias id.RoomAlias) id.RoomID {
	roomID := id.RoomID(fmt.Sprintf("!room%d:%s", len(f.aliases), testServer))
	f.aliases[alias] = roomID
	f.canonical[roomID] = alias
	f.joined = append(f.joined, roomID)
	return roomID
}

// addUnaliasedRoom registers a joined room with no canonical alias.
func (f *fakeDirectory) addUnaliasedRoom() id.RoomID {
	roomID := id.RoomID(fmt.Sprintf("!anon%d:%s", len(f.joined), testServer))
	f.joined = append(f.joined, roomID)
	return roomID
}

func (f *fakeDirectory) ResolveAlias(_ context.Context, alias id.RoomAlias) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	roomID, ok := f.aliases[alias]
	if !ok {
		return "", ErrNotFound
	}
	return roomID, nil
}

func (f *fakeDirectory) CreateRoom(_ context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	alias := id.NewRoomAlias(req.RoomAliasName, testServer)
	if _, exists := f.aliases[alias]; exists {
		return "", ErrAliasInUse
	}
	f.created = append(f.created, req)
	roomID := id.RoomID(fmt.Sprintf("!created%d:%s", len(f.created), testServer))
	f.aliases[alias] = roomID
	f.canonical[roomID] = alias
	f.joined = append(f.joined, roomID)
	if req.PowerLevelOverride != nil {
		f.powerLevels[roomID] = req.PowerLevelOverride
	}
	return roomID, nil
}

func (f *fakeDirectory) RoomState(_ context.Context, roomID id.RoomID) (mautrix.RoomStateMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.state[roomID]
	if !ok {
		return mautrix.RoomStateMap{}, nil
	}
	return state, nil
}

func (f *fakeDirectory) PowerLevels(_ context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	levels, ok := f.powerLevels[roomID]
	if !ok {
		return &event.PowerLevelsEventContent{}, nil
	}
	return levels, nil
}

func (f *fakeDirectory) SetPowerLevels(_ context.Context, roomID id.RoomID, levels *event.PowerLevelsEventContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.setLevelErr[roomID]; err != nil {
		return err
	}
	f.levelWrites = append(f.levelWrites, levelsCall{RoomID: roomID, Levels: levels})
	f.powerLevels[roomID] = levels
	return nil
}

func (f *fakeDirectory) CanonicalAlias(_ context.Context, roomID id.RoomID) (id.RoomAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alias, ok := f.canonical[roomID]
	if !ok {
		return "", ErrNotFound
	}
	return alias, nil
}

func (f *fakeDirectory) BanUser(_ context.Context, roomID id.RoomID, userID id.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.banErrs[roomID]; err != nil {
		return err
	}
	f.bans = append(f.bans, banCall{RoomID: roomID, UserID: userID})
	return nil
}

func (f *fakeDirectory) InviteUser(_ context.Context, roomID id.RoomID, userID id.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, banCall{RoomID: roomID, UserID: userID})
	return nil
}

func (f *fakeDirectory) JoinRoom(_ context.Context, roomID id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, roomID)
	return nil
}

func (f *fakeDirectory) LeaveRoom(_ context.Context, roomID id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *fakeDirectory) SendText(_ context.Context, roomID id.RoomID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, textCall{RoomID: roomID, Body: body})
	return nil
}

func (f *fakeDirectory) SendMarkdown(_ context.Context, roomID id.RoomID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markdowns = append(f.markdowns, textCall{RoomID: roomID, Body: body})
	return nil
}

func (f *fakeDirectory) JoinedRooms(_ context.Context) ([]id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := make([]id.RoomID, len(f.joined))
	copy(joined, f.joined)
	return joined, nil
}

// bansIn returns the recorded ban calls against one room.
func (f *fakeDirectory) bansIn(roomID id.RoomID) []banCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []banCall
	for _, b := range f.bans {
		if b.RoomID == roomID {
			out = append(out, b)
		}
	}
	return out
}

// memberState builds an m.room.member state map for RoomState.
func memberState(members map[id.UserID]event.Membership) mautrix.RoomStateMap {
	events := make(map[string]*event.Event, len(members))
	for userID, membership := range members {
		key := string(userID)
		events[key] = &event.Event{
			Type:     event.StateMember,
			StateKey: &key,
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
		}
	}
	return mautrix.RoomStateMap{event.StateMember: events}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// memberEvent builds a parsed m.room.member event for dispatching.
func memberEvent(roomID id.RoomID, sender, target id.UserID, membership event.Membership) *event.Event {
	key := string(target)
	return &event.Event{
		Type:     event.StateMember,
		RoomID:   roomID,
		Sender:   sender,
		StateKey: &key,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
	}
}

// messageEvent builds a parsed m.room.message text event.
func messageEvent(roomID id.RoomID, sender id.UserID, body string) *event.Event {
	return &event.Event{
		Type:    event.EventMessage,
		RoomID:  roomID,
		Sender:  sender,
		Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body}},
	}
}
