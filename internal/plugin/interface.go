// Package plugin defines the capability contract between the host and
// third-party service implementations, the registry that resolves them and the
// runtime configuration snapshot they are constructed with.
//
// A service implementation is either a Go factory compiled into the host and
// registered with a Registry, or a JavaScript plugin loaded from the
// operator-managed install directory at resolution time.
package plugin

import (
	"context"
	"fmt"
)

// Plugin is the capability contract a service implementation must satisfy to
// be loadable by the host.
type Plugin interface {
	// GetAccounts returns the service account records for the given
	// characters. All characters belong to the same player. Implementations
	// should only return records for the requested character ids; the host
	// drops everything else.
	GetAccounts(ctx context.Context, characters []Character) ([]Account, error)

	// OnConfigurationChange notifies the implementation that the service
	// configuration was updated. Best effort: errors are logged by the host,
	// never surfaced to the administrator.
	OnConfigurationChange(ctx context.Context) error
}

// Configuration is the immutable snapshot handed to an implementation at
// construction. It is rebuilt on every resolution and never persisted.
type Configuration struct {
	ServiceID      int64
	RequiredGroups []int64

	// ConfigurationData is the free-form configuration payload from the
	// service configuration. Its shape is defined by the plugin alone.
	ConfigurationData string
}

// Info describes a registered implementation.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Character is the plugin-facing projection of a character.
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

// Group is the plugin-facing projection of a group membership.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Account status values.
const (
	StatusActive      = "Active"
	StatusDeactivated = "Deactivated"
	StatusPending     = "Pending"
	StatusUnknown     = "Unknown"
)

// Account is one service account record returned by an implementation. The
// character id must be one of the requested ids, everything else is
// service-defined state.
type Account struct {
	CharacterID int64  `json:"characterId"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	Status      string `json:"status"`
	Name        string `json:"name"`
}

// Error is the domain error type an implementation may raise. It is the only
// error kind the host lets propagate past the loader boundary; everything
// else is logged and swallowed there.
type Error struct {
	Message string
}

// NewError creates a plugin domain error.
func NewError(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}
