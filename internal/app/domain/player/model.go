// Package player models the host-side player, character and group records the
// service core reads. The records are owned by the account management
// subsystem; the core only projects them into the plugin-facing shapes.
package player

import (
	"time"

	"github.com/step-security-bot/neucore/internal/plugin"
)

// Group is a host-side group a player can be a member of.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Player is the account a set of characters belongs to.
type Player struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Groups []Group `json:"groups"`

	// TokenInvalidSince is set when the player's ESI token became invalid.
	// Group memberships are treated as deactivated once the configured delay
	// has passed, or immediately where the caller demands it.
	TokenInvalidSince *time.Time `json:"tokenInvalidSince,omitempty"`
}

// HasGroup reports whether the player is a member of the group.
func (p Player) HasGroup(groupID int64) bool {
	for _, g := range p.Groups {
		if g.ID == groupID {
			return true
		}
	}
	return false
}

// CoreGroups projects the player's memberships into the plugin-facing group
// representation.
func (p Player) CoreGroups() []plugin.Group {
	groups := make([]plugin.Group, 0, len(p.Groups))
	for _, g := range p.Groups {
		groups = append(groups, plugin.Group{ID: g.ID, Name: g.Name})
	}
	return groups
}

// Character is one EVE character on a player account.
type Character struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Main            bool   `json:"main"`
	PlayerID        int64  `json:"playerId"`
	PlayerName      string `json:"playerName"`
	CorporationID   int64  `json:"corporationId"`
	CorporationName string `json:"corporationName"`
	AllianceID      int64  `json:"allianceId"`
	AllianceName    string `json:"allianceName"`
}

// ToCoreCharacter projects the character into the plugin-facing
// representation.
func (c Character) ToCoreCharacter() plugin.Character {
	return plugin.Character{
		ID:              c.ID,
		Name:            c.Name,
		Main:            c.Main,
		PlayerID:        c.PlayerID,
		PlayerName:      c.PlayerName,
		CorporationID:   c.CorporationID,
		CorporationName: c.CorporationName,
		AllianceID:      c.AllianceID,
		AllianceName:    c.AllianceName,
	}
}
