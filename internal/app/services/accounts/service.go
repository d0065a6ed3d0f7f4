// Package accounts evaluates player account state for the service core, most
// importantly whether a player's group memberships count as deactivated.
package accounts

import (
	"context"
	"time"

	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/storage"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// DeactivationPolicy controls how invalid ESI tokens suppress group
// memberships. Delay is the grace window between the token becoming invalid
// and the memberships counting as deactivated.
type DeactivationPolicy struct {
	Enabled bool
	Delay   time.Duration
}

// Service provides player lookups and the deactivation decision.
type Service struct {
	players storage.PlayerStore
	logins  storage.LoginStore
	policy  DeactivationPolicy
	log     *logger.Logger

	now func() time.Time
}

// New constructs an accounts service.
func New(players storage.PlayerStore, logins storage.LoginStore, policy DeactivationPolicy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{players: players, logins: logins, policy: policy, log: log, now: time.Now}
}

// GroupsDeactivated reports whether the player's group memberships are
// suppressed. With ignoreDelay the decision takes effect as soon as the
// invalid token is recorded; otherwise the configured grace window applies.
func (s *Service) GroupsDeactivated(p player.Player, ignoreDelay bool) bool {
	if !s.policy.Enabled {
		return false
	}
	if p.TokenInvalidSince == nil {
		return false
	}
	if ignoreDelay {
		return true
	}
	return s.now().After(p.TokenInvalidSince.Add(s.policy.Delay))
}

// PlayerOfCharacter resolves the character and its owning player.
func (s *Service) PlayerOfCharacter(ctx context.Context, characterID int64) (player.Player, player.Character, error) {
	c, err := s.players.GetCharacter(ctx, characterID)
	if err != nil {
		return player.Player{}, player.Character{}, err
	}
	p, err := s.players.GetPlayer(ctx, c.PlayerID)
	if err != nil {
		return player.Player{}, player.Character{}, err
	}
	return p, c, nil
}

// Characters lists the characters on a player account.
func (s *Service) Characters(ctx context.Context, playerID int64) ([]player.Character, error) {
	return s.players.ListCharacters(ctx, playerID)
}

// RefreshTokenState reconciles each player's TokenInvalidSince marker with the
// validity of the tokens on their characters. Called by the scheduled group
// updater.
func (s *Service) RefreshTokenState(ctx context.Context) error {
	players, err := s.players.ListPlayers(ctx)
	if err != nil {
		return err
	}

	for _, p := range players {
		characters, err := s.players.ListCharacters(ctx, p.ID)
		if err != nil {
			return err
		}

		anyInvalid := false
		for _, c := range characters {
			tokens, err := s.logins.ListTokensByCharacter(ctx, c.ID)
			if err != nil {
				return err
			}
			for _, t := range tokens {
				if !t.Valid {
					anyInvalid = true
					break
				}
			}
			if anyInvalid {
				break
			}
		}

		changed := false
		if anyInvalid && p.TokenInvalidSince == nil {
			now := s.now().UTC()
			p.TokenInvalidSince = &now
			changed = true
		} else if !anyInvalid && p.TokenInvalidSince != nil {
			p.TokenInvalidSince = nil
			changed = true
		}

		if changed {
			if _, err := s.players.UpdatePlayer(ctx, p); err != nil {
				return err
			}
			s.log.WithField("player_id", p.ID).
				WithField("token_invalid", anyInvalid).
				Info("player token state updated")
		}
	}
	return nil
}
