// Package logins manages the named login profiles and enforces their naming
// and lifecycle invariants.
package logins

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/storage"
	"github.com/step-security-bot/neucore/internal/errors"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// Service manages login profiles.
type Service struct {
	store storage.LoginStore
	log   *logger.Logger
}

// New constructs a logins service.
func New(store storage.LoginStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("logins")
	}
	return &Service{store: store, log: log}
}

// List returns all login profiles.
func (s *Service) List(ctx context.Context) ([]evelogin.Login, error) {
	logins, err := s.store.ListLogins(ctx)
	if err != nil {
		return nil, errors.Internal("list logins", err)
	}
	return logins, nil
}

// Create validates and persists a new login profile. Names carrying the
// reserved prefix are only assignable to the fixed internal logins.
func (s *Service) Create(ctx context.Context, login evelogin.Login) (evelogin.Login, error) {
	if !evelogin.ValidName(login.Name) {
		return evelogin.Login{}, errors.Validation(fmt.Sprintf(
			"login name must match [-._a-zA-Z0-9]+ and be at most %d characters", evelogin.MaxNameLength))
	}
	if evelogin.UsesReservedPrefix(login.Name) && !evelogin.IsInternalName(login.Name) {
		return evelogin.Login{}, errors.Validation(fmt.Sprintf(
			"names starting with %q are reserved for internal logins", evelogin.InternalPrefix))
	}
	if len(login.EveRoles) > evelogin.MaxRolesLength {
		return evelogin.Login{}, errors.Validation("combined role list is too long")
	}

	if _, err := s.store.GetLoginByName(ctx, login.Name); err == nil {
		return evelogin.Login{}, errors.Validation(fmt.Sprintf("login name %q already exists", login.Name))
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return evelogin.Login{}, errors.Internal("login lookup", err)
	}

	login.ID = 0
	login.SetEsiScopes(login.EsiScopes)

	created, err := s.store.CreateLogin(ctx, login)
	if err != nil {
		return evelogin.Login{}, errors.Internal("create login", err)
	}
	s.log.WithField("login_id", created.ID).WithField("name", created.Name).Info("login created")
	return created, nil
}

// Delete removes a login profile. Internal logins cannot be deleted, and a
// login is only removable while no tokens reference it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	login, err := s.store.GetLogin(ctx, id)
	if err != nil {
		return s.storeError(err, id)
	}

	if evelogin.IsInternalName(login.Name) {
		return errors.Validation("internal logins cannot be deleted")
	}

	count, err := s.store.CountTokens(ctx, id)
	if err != nil {
		return errors.Internal("count tokens", err)
	}
	if count > 0 {
		return errors.Validation("login still has tokens; remove them first")
	}

	if err := s.store.DeleteLogin(ctx, id); err != nil {
		return s.storeError(err, id)
	}
	s.log.WithField("login_id", id).Info("login deleted")
	return nil
}

// Tokens returns the tokens referencing a login, ordered ascending by the
// owning character's name with ownerless tokens first.
func (s *Service) Tokens(ctx context.Context, id int64) ([]evelogin.Token, error) {
	if _, err := s.store.GetLogin(ctx, id); err != nil {
		return nil, s.storeError(err, id)
	}

	tokens, err := s.store.ListTokens(ctx, id)
	if err != nil {
		return nil, errors.Internal("list tokens", err)
	}
	evelogin.SortTokens(tokens)
	return tokens, nil
}

func (s *Service) storeError(err error, id int64) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound(fmt.Sprintf("login %d not found", id))
	}
	return errors.Internal("login lookup", err)
}
