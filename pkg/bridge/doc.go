// Copyright 2024-2026 Aiku AI

// Package bridge implements a Matrix appservice that hosts comment
// sections as chat rooms.
//
// A customer registers a site by messaging the bot, which creates the
// site's moderation room. Comment rooms are provisioned lazily: when
// the homeserver queries an alias like #comments_site_section, the
// appservice creates the room under the already-registered site and
// copies the moderation room's power levels and ban list onto it.
//
// # Core Types
//
// [Namespace] is the alias codec: it classifies aliases into
// moderation rooms, comment rooms and foreign rooms purely from
// delimiter counts, with no I/O.
//
// [Directory] abstracts the homeserver's room directory and state
// APIs; [NewMatrixDirectory] adapts a mautrix client to it and
// [NewCachedDirectory] adds a bounded alias-resolution LRU in front.
//
// [Provisioner] creates comment rooms on demand, idempotently, leaving
// alias-uniqueness races to the homeserver.
//
// [Replicator] keeps moderation state consistent: bans in a comment
// room flow to the moderation room, and bans or power-level changes in
// a moderation room fan out to all of the site's comment rooms.
//
// [Dispatcher] consumes pushed transactions and routes each event to
// the replicator, the command interpreter or the invite handling.
//
// [Server] is the inbound HTTP transport with token authentication and
// transaction-ID deduplication; [Service] wires everything together.
//
// # Scale
//
// Replication enumerates every room the bot has joined on each ban or
// power-level event. This is linear in the number of managed rooms and
// intentionally so; the product runs one logical instance with no
// local room store, the homeserver's directory being the single source
// of truth.
package bridge
