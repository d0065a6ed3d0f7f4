// Package evelogin models named OAuth login profiles with their required ESI
// scopes and in-game roles, plus the tokens that reference them.
package evelogin

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
)

// InternalPrefix marks login names reserved for internal use.
const InternalPrefix = "core."

// Names of the fixed internal logins. No other login may start with the
// internal prefix.
const (
	NameDefault  = InternalPrefix + "default"
	NameTracking = InternalPrefix + "tracking"
	NameManaged  = InternalPrefix + "managed"
	NameMail     = InternalPrefix + "mail"
)

// InternalNames lists all internal login names.
var InternalNames = []string{NameDefault, NameTracking, NameManaged, NameMail}

// ESI scopes used by the internal logins.
const (
	ScopeMail       = "esi-mail.send_mail.v1"
	ScopeRoles      = "esi-characters.read_corporation_roles.v1"
	ScopeTracking   = "esi-corporations.track_members.v1"
	ScopeStructures = "esi-universe.read_structures.v1"
	ScopeMembership = "esi-corporations.read_corporation_membership.v1"
)

// RoleDirector is the in-game role required by the tracking login.
const RoleDirector = "Director"

// MaxNameLength bounds login names.
const MaxNameLength = 20

// MaxRolesLength bounds the combined comma-separated role list.
const MaxRolesLength = 1024

var namePattern = regexp.MustCompile(`^[-._a-zA-Z0-9]+$`)

// Login is a named login profile. Scopes are stored as a single
// space-delimited string, roles as a comma-delimited string; both have
// normalizing accessors.
type Login struct {
	ID          int64
	Name        string
	Description string
	EsiScopes   string
	EveRoles    string
}

// SetEsiScopes stores the scope string with whitespace runs collapsed to
// single spaces and empty tokens dropped. Scope values themselves are not
// validated and duplicates are kept.
func (l *Login) SetEsiScopes(raw string) {
	l.EsiScopes = NormalizeScopes(raw)
}

// SetEveRoles stores the role list as a comma-delimited string.
func (l *Login) SetEveRoles(roles []string) {
	l.EveRoles = strings.Join(roles, ",")
}

// Roles returns the stored role list. Empty storage yields an empty slice.
func (l *Login) Roles() []string {
	if l.EveRoles == "" {
		return []string{}
	}
	return strings.Split(l.EveRoles, ",")
}

// MarshalJSON serializes the login with the role list expanded.
func (l Login) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"id":          l.ID,
		"name":        l.Name,
		"description": l.Description,
		"esiScopes":   l.EsiScopes,
		"eveRoles":    l.Roles(),
	})
}

// NormalizeScopes collapses any whitespace run to a single space and trims
// the ends. Normalizing an already normalized string is a no-op.
func NormalizeScopes(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// ValidName reports whether a name satisfies the length and pattern rules.
func ValidName(name string) bool {
	return name != "" && len(name) <= MaxNameLength && namePattern.MatchString(name)
}

// IsInternalName reports whether the name is one of the fixed internal
// logins.
func IsInternalName(name string) bool {
	for _, n := range InternalNames {
		if n == name {
			return true
		}
	}
	return false
}

// UsesReservedPrefix reports whether the name starts with the internal
// prefix. Such names are only assignable to the fixed internal logins.
func UsesReservedPrefix(name string) bool {
	return strings.HasPrefix(name, InternalPrefix)
}

// ValidLoginData structurally checks an untrusted, decoded JSON object before
// it is accepted as a login: integer id, string name, description and scope
// string, and a list-typed roles field.
func ValidLoginData(data map[string]interface{}) bool {
	id, ok := data["id"].(float64)
	if !ok || id != math.Trunc(id) {
		return false
	}
	if _, ok := data["name"].(string); !ok {
		return false
	}
	if _, ok := data["description"].(string); !ok {
		return false
	}
	if _, ok := data["esiScopes"].(string); !ok {
		return false
	}
	if _, ok := data["eveRoles"].([]interface{}); !ok {
		return false
	}
	return true
}

// Token is a per-character ESI token referencing a login. A token without an
// owning character has an empty character name.
type Token struct {
	ID            int64  `json:"id"`
	LoginID       int64  `json:"loginId"`
	CharacterID   int64  `json:"characterId"`
	CharacterName string `json:"characterName"`
	Valid         bool   `json:"valid"`
}

// SortTokens orders tokens ascending by owning character name. Tokens without
// a character sort first via the empty-string key; ties keep their input
// order.
func SortTokens(tokens []Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CharacterName < tokens[j].CharacterName
	})
}
