// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// replicationSite builds a site with a moderation room and two comment
// rooms, plus an unrelated site's comment room and a room without a
// canonical alias, all joined by the bot.
type replicationSite struct {
	fake      *fakeDirectory
	modRoom   id.RoomID
	post1     id.RoomID
	post2     id.RoomID
	otherSite id.RoomID
	unaliased id.RoomID
}

func newReplicationSite() *replicationSite {
	fake := newFakeDirectory()
	return &replicationSite{
		fake:      fake,
		modRoom:   fake.addRoom("#comments_blog:example.com"),
		post1:     fake.addRoom("#comments_blog_post1:example.com"),
		post2:     fake.addRoom("#comments_blog_post2:example.com"),
		otherSite: fake.addRoom("#comments_shop_cart:example.com"),
		unaliased: fake.addUnaliasedRoom(),
	}
}

func newTestReplicator(fake *fakeDirectory) *Replicator {
	return NewReplicator(fake, testNamespace(), testLogger())
}

func TestReplicateBanFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	r := newTestReplicator(site.fake)

	err := r.ReplicateBan(ctx, site.modRoom, "@troll:example.com")
	if err != nil {
		t.Fatalf("ReplicateBan: %v", err)
	}

	if len(site.fake.bans) != 2 {
		t.Fatalf("issued %d bans, want 2", len(site.fake.bans))
	}
	for _, roomID := range []id.RoomID{site.post1, site.post2} {
		bans := site.fake.bansIn(roomID)
		if len(bans) != 1 || bans[0].UserID != "@troll:example.com" {
			t.Errorf("bans in %s = %v, want one ban of @troll", roomID, bans)
		}
	}
	for _, roomID := range []id.RoomID{site.modRoom, site.otherSite, site.unaliased} {
		if bans := site.fake.bansIn(roomID); len(bans) != 0 {
			t.Errorf("unexpected bans in %s: %v", roomID, bans)
		}
	}
}

func TestReplicateBanForwardToModeration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	r := newTestReplicator(site.fake)

	err := r.ReplicateBan(ctx, site.post1, "@troll:example.com")
	if err != nil {
		t.Fatalf("ReplicateBan: %v", err)
	}
	if len(site.fake.bans) != 1 {
		t.Fatalf("issued %d bans, want 1", len(site.fake.bans))
	}
	if got := site.fake.bans[0]; got != (banCall{RoomID: site.modRoom, UserID: "@troll:example.com"}) {
		t.Errorf("ban = %v, want ban of @troll in the moderation room", got)
	}
}

func TestReplicateBanSkipsUnmanagedRooms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	foreign := site.fake.addRoom("#watercooler:example.com")
	r := newTestReplicator(site.fake)

	for _, roomID := range []id.RoomID{site.unaliased, foreign} {
		if err := r.ReplicateBan(ctx, roomID, "@troll:example.com"); err != nil {
			t.Errorf("ReplicateBan(%s): %v", roomID, err)
		}
	}
	if len(site.fake.bans) != 0 {
		t.Errorf("issued %d bans, want 0", len(site.fake.bans))
	}
}

func TestReplicateBanPartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	site.fake.banErrs[site.post1] = errors.New("target rejected ban")
	r := newTestReplicator(site.fake)

	if err := r.ReplicateBan(ctx, site.modRoom, "@troll:example.com"); err != nil {
		t.Fatalf("fan-out must not fail on one bad target: %v", err)
	}
	if bans := site.fake.bansIn(site.post2); len(bans) != 1 {
		t.Errorf("remaining target got %d bans, want 1", len(bans))
	}
}

func TestReplicatePowerLevels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	r := newTestReplicator(site.fake)

	levels := &event.PowerLevelsEventContent{BanPtr: ptr.Ptr(50), KickPtr: ptr.Ptr(50)}
	if err := r.ReplicatePowerLevels(ctx, site.modRoom, levels); err != nil {
		t.Fatalf("ReplicatePowerLevels: %v", err)
	}

	if len(site.fake.levelWrites) != 2 {
		t.Fatalf("wrote power levels to %d rooms, want 2", len(site.fake.levelWrites))
	}
	for _, write := range site.fake.levelWrites {
		if write.RoomID != site.post1 && write.RoomID != site.post2 {
			t.Errorf("power levels written to %s, want only the site's comment rooms", write.RoomID)
		}
		// Full replace with the moderation room's content, not a merge.
		if write.Levels != levels {
			t.Error("power levels content was not copied verbatim")
		}
	}
}

func TestReplicatePowerLevelsIgnoresCommentRooms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	r := newTestReplicator(site.fake)

	levels := &event.PowerLevelsEventContent{BanPtr: ptr.Ptr(50)}
	if err := r.ReplicatePowerLevels(ctx, site.post1, levels); err != nil {
		t.Fatalf("ReplicatePowerLevels: %v", err)
	}
	if len(site.fake.levelWrites) != 0 {
		t.Errorf("comment room power levels replicated %d times, want 0", len(site.fake.levelWrites))
	}
}

func TestReplicatePowerLevelsPartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := newReplicationSite()
	site.fake.setLevelErr[site.post1] = errors.New("target rejected state")
	r := newTestReplicator(site.fake)

	if err := r.ReplicatePowerLevels(ctx, site.modRoom, &event.PowerLevelsEventContent{}); err != nil {
		t.Fatalf("fan-out must not fail on one bad target: %v", err)
	}
	if len(site.fake.levelWrites) != 1 || site.fake.levelWrites[0].RoomID != site.post2 {
		t.Errorf("levelWrites = %v, want a single write to the healthy target", site.fake.levelWrites)
	}
}
