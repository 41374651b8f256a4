// Copyright 2024-2026 Aiku AI

package bridge

import (
	"strings"

	"maunium.net/go/mautrix/id"
)

// RoomRole classifies a room alias within the comment namespace.
type RoomRole int

const (
	// RoleForeign marks aliases outside the managed namespace. The
	// appservice never acts on foreign rooms.
	RoleForeign RoomRole = iota
	// RoleModeration marks a site's moderation room alias.
	RoleModeration
	// RoleComment marks a per-section comment room alias.
	RoleComment
)

func (r RoomRole) String() string {
	switch r {
	case RoleModeration:
		return "moderation"
	case RoleComment:
		return "comment"
	default:
		return "foreign"
	}
}

// ParsedAlias is the structured form of a room alias. Section is only
// set for RoleComment.
type ParsedAlias struct {
	Role    RoomRole
	Site    string
	Section string
}

// Namespace describes the alias namespace the appservice owns: the
// localpart prefix (including its trailing delimiter, e.g. "comments_"),
// the segment delimiter, and the homeserver the aliases live on.
type Namespace struct {
	Prefix    string
	Delimiter string
	Server    string
}

// splitAlias separates an alias localpart from its server name. The
// server name portion may itself contain the delimiter character, so
// the split happens on the first ":" only.
func splitAlias(alias id.RoomAlias) (localpart, server string) {
	raw := strings.TrimPrefix(string(alias), "#")
	localpart, server, _ = strings.Cut(raw, ":")
	return
}

// Parse classifies an alias by delimiter count. A localpart carrying
// exactly the namespace prefix's own delimiters is a moderation room,
// one extra delimiter is a comment room, anything else is foreign.
// Total function: unparseable input comes back as RoleForeign.
func (ns *Namespace) Parse(alias id.RoomAlias) ParsedAlias {
	localpart, _ := splitAlias(alias)
	if !strings.HasPrefix(localpart, ns.Prefix) {
		return ParsedAlias{Role: RoleForeign}
	}
	rest := localpart[len(ns.Prefix):]
	switch strings.Count(rest, ns.Delimiter) {
	case 0:
		if rest == "" {
			return ParsedAlias{Role: RoleForeign}
		}
		return ParsedAlias{Role: RoleModeration, Site: rest}
	case 1:
		site, section, _ := strings.Cut(rest, ns.Delimiter)
		if site == "" || section == "" {
			return ParsedAlias{Role: RoleForeign}
		}
		return ParsedAlias{Role: RoleComment, Site: site, Section: section}
	default:
		return ParsedAlias{Role: RoleForeign}
	}
}

// ModerationAliasOf strips the section segment from a comment room
// alias, producing the sibling moderation room alias on the same
// server. Callers must check the role first: input that doesn't parse
// as RoleComment returns "".
func (ns *Namespace) ModerationAliasOf(alias id.RoomAlias) id.RoomAlias {
	parsed := ns.Parse(alias)
	if parsed.Role != RoleComment {
		return ""
	}
	_, server := splitAlias(alias)
	return id.NewRoomAlias(ns.Prefix+parsed.Site, server)
}

// SameSite reports whether two aliases belong to the same site. A room
// is never a sibling of itself, so identical aliases don't match.
func (ns *Namespace) SameSite(a, b id.RoomAlias) bool {
	if a == b {
		return false
	}
	pa, pb := ns.Parse(a), ns.Parse(b)
	return pa.Role != RoleForeign && pb.Role != RoleForeign && pa.Site == pb.Site
}

// ModerationAlias builds the moderation room alias for a site name.
func (ns *Namespace) ModerationAlias(site string) id.RoomAlias {
	return id.NewRoomAlias(ns.Prefix+site, ns.Server)
}

// ModerationLocalpart builds the alias localpart for a site's
// moderation room, as required by the room creation API.
func (ns *Namespace) ModerationLocalpart(site string) string {
	return ns.Prefix + site
}

// ValidSiteName reports whether a site name can be registered. The
// delimiter is reserved for alias structure and must not appear in
// site names.
func (ns *Namespace) ValidSiteName(name string) bool {
	return name != "" && !strings.Contains(name, ns.Delimiter)
}

// Localpart returns the localpart of an alias, without the leading "#"
// or the server name.
func Localpart(alias id.RoomAlias) string {
	localpart, _ := splitAlias(alias)
	return localpart
}
