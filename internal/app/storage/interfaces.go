// Package storage declares the persistence interfaces of the application.
package storage

import (
	"context"
	"errors"

	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
)

// ErrNotFound is returned (possibly wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// ServiceStore persists service records.
type ServiceStore interface {
	CreateService(ctx context.Context, svc service.Service) (service.Service, error)
	UpdateService(ctx context.Context, svc service.Service) (service.Service, error)
	GetService(ctx context.Context, id int64) (service.Service, error)
	ListServices(ctx context.Context) ([]service.Service, error)
	DeleteService(ctx context.Context, id int64) error
}

// LoginStore persists login profiles and the tokens referencing them.
type LoginStore interface {
	CreateLogin(ctx context.Context, login evelogin.Login) (evelogin.Login, error)
	GetLogin(ctx context.Context, id int64) (evelogin.Login, error)
	GetLoginByName(ctx context.Context, name string) (evelogin.Login, error)
	ListLogins(ctx context.Context) ([]evelogin.Login, error)
	DeleteLogin(ctx context.Context, id int64) error

	CreateToken(ctx context.Context, token evelogin.Token) (evelogin.Token, error)
	UpdateToken(ctx context.Context, token evelogin.Token) (evelogin.Token, error)
	ListTokens(ctx context.Context, loginID int64) ([]evelogin.Token, error)
	ListTokensByCharacter(ctx context.Context, characterID int64) ([]evelogin.Token, error)
	CountTokens(ctx context.Context, loginID int64) (int, error)
}

// PlayerStore persists players and their characters.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, p player.Player) (player.Player, error)
	UpdatePlayer(ctx context.Context, p player.Player) (player.Player, error)
	GetPlayer(ctx context.Context, id int64) (player.Player, error)
	ListPlayers(ctx context.Context) ([]player.Player, error)

	CreateCharacter(ctx context.Context, c player.Character) (player.Character, error)
	GetCharacter(ctx context.Context, id int64) (player.Character, error)
	ListCharacters(ctx context.Context, playerID int64) ([]player.Character, error)
}
