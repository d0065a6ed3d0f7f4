// Package memory provides the in-memory implementation of the storage
// interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	services   map[int64]service.Service
	logins     map[int64]evelogin.Login
	tokens     map[int64]evelogin.Token
	players    map[int64]player.Player
	characters map[int64]player.Character
}

var _ storage.ServiceStore = (*Store)(nil)
var _ storage.LoginStore = (*Store)(nil)
var _ storage.PlayerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		services:   make(map[int64]service.Service),
		logins:     make(map[int64]evelogin.Login),
		tokens:     make(map[int64]evelogin.Token),
		players:    make(map[int64]player.Player),
		characters: make(map[int64]player.Character),
	}
}

func (s *Store) nextIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// ServiceStore implementation ------------------------------------------------

func (s *Store) CreateService(_ context.Context, svc service.Service) (service.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.ID == 0 {
		svc.ID = s.nextIDLocked()
	} else if _, exists := s.services[svc.ID]; exists {
		return service.Service{}, fmt.Errorf("service %d already exists", svc.ID)
	}
	for _, other := range s.services {
		if other.Name == svc.Name {
			return service.Service{}, fmt.Errorf("service name %q already taken", svc.Name)
		}
	}

	s.services[svc.ID] = cloneService(svc)
	return svc, nil
}

func (s *Store) UpdateService(_ context.Context, svc service.Service) (service.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[svc.ID]; !ok {
		return service.Service{}, fmt.Errorf("service %d: %w", svc.ID, storage.ErrNotFound)
	}
	s.services[svc.ID] = cloneService(svc)
	return svc, nil
}

func (s *Store) GetService(_ context.Context, id int64) (service.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return service.Service{}, fmt.Errorf("service %d: %w", id, storage.ErrNotFound)
	}
	return cloneService(svc), nil
}

func (s *Store) ListServices(_ context.Context) ([]service.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]service.Service, 0, len(s.services))
	for _, svc := range s.services {
		result = append(result, cloneService(svc))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) DeleteService(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[id]; !ok {
		return fmt.Errorf("service %d: %w", id, storage.ErrNotFound)
	}
	delete(s.services, id)
	return nil
}

// LoginStore implementation --------------------------------------------------

func (s *Store) CreateLogin(_ context.Context, login evelogin.Login) (evelogin.Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if login.ID == 0 {
		login.ID = s.nextIDLocked()
	} else if _, exists := s.logins[login.ID]; exists {
		return evelogin.Login{}, fmt.Errorf("login %d already exists", login.ID)
	}
	for _, other := range s.logins {
		if other.Name == login.Name {
			return evelogin.Login{}, fmt.Errorf("login name %q already taken", login.Name)
		}
	}

	s.logins[login.ID] = login
	return login, nil
}

func (s *Store) GetLogin(_ context.Context, id int64) (evelogin.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	login, ok := s.logins[id]
	if !ok {
		return evelogin.Login{}, fmt.Errorf("login %d: %w", id, storage.ErrNotFound)
	}
	return login, nil
}

func (s *Store) GetLoginByName(_ context.Context, name string) (evelogin.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, login := range s.logins {
		if login.Name == name {
			return login, nil
		}
	}
	return evelogin.Login{}, fmt.Errorf("login %q: %w", name, storage.ErrNotFound)
}

func (s *Store) ListLogins(_ context.Context) ([]evelogin.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]evelogin.Login, 0, len(s.logins))
	for _, login := range s.logins {
		result = append(result, login)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

func (s *Store) DeleteLogin(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logins[id]; !ok {
		return fmt.Errorf("login %d: %w", id, storage.ErrNotFound)
	}
	delete(s.logins, id)
	return nil
}

func (s *Store) CreateToken(_ context.Context, token evelogin.Token) (evelogin.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == 0 {
		token.ID = s.nextIDLocked()
	} else if _, exists := s.tokens[token.ID]; exists {
		return evelogin.Token{}, fmt.Errorf("token %d already exists", token.ID)
	}

	s.tokens[token.ID] = token
	return token, nil
}

func (s *Store) UpdateToken(_ context.Context, token evelogin.Token) (evelogin.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; !ok {
		return evelogin.Token{}, fmt.Errorf("token %d: %w", token.ID, storage.ErrNotFound)
	}
	s.tokens[token.ID] = token
	return token, nil
}

func (s *Store) ListTokens(_ context.Context, loginID int64) ([]evelogin.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []evelogin.Token
	for _, token := range s.tokens {
		if token.LoginID == loginID {
			result = append(result, token)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListTokensByCharacter(_ context.Context, characterID int64) ([]evelogin.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []evelogin.Token
	for _, token := range s.tokens {
		if token.CharacterID == characterID {
			result = append(result, token)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CountTokens(_ context.Context, loginID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, token := range s.tokens {
		if token.LoginID == loginID {
			count++
		}
	}
	return count, nil
}

// PlayerStore implementation -------------------------------------------------

func (s *Store) CreatePlayer(_ context.Context, p player.Player) (player.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.players[p.ID]; exists {
		return player.Player{}, fmt.Errorf("player %d already exists", p.ID)
	}

	s.players[p.ID] = clonePlayer(p)
	return p, nil
}

func (s *Store) UpdatePlayer(_ context.Context, p player.Player) (player.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; !ok {
		return player.Player{}, fmt.Errorf("player %d: %w", p.ID, storage.ErrNotFound)
	}
	s.players[p.ID] = clonePlayer(p)
	return p, nil
}

func (s *Store) GetPlayer(_ context.Context, id int64) (player.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return player.Player{}, fmt.Errorf("player %d: %w", id, storage.ErrNotFound)
	}
	return clonePlayer(p), nil
}

func (s *Store) ListPlayers(_ context.Context) ([]player.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]player.Player, 0, len(s.players))
	for _, p := range s.players {
		result = append(result, clonePlayer(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateCharacter(_ context.Context, c player.Character) (player.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.characters[c.ID]; exists {
		return player.Character{}, fmt.Errorf("character %d already exists", c.ID)
	}

	s.characters[c.ID] = c
	return c, nil
}

func (s *Store) GetCharacter(_ context.Context, id int64) (player.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return player.Character{}, fmt.Errorf("character %d: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListCharacters(_ context.Context, playerID int64) ([]player.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []player.Character
	for _, c := range s.characters {
		if c.PlayerID == playerID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// helpers ---------------------------------------------------------------------

func cloneService(svc service.Service) service.Service {
	if svc.ConfigurationFile != nil {
		f := *svc.ConfigurationFile
		f.RequiredGroups = append([]int64(nil), f.RequiredGroups...)
		f.URLs = append([]service.ConfigURL(nil), f.URLs...)
		svc.ConfigurationFile = &f
	}
	if svc.ConfigurationDatabase != nil {
		d := *svc.ConfigurationDatabase
		d.RequiredGroups = append([]int64(nil), d.RequiredGroups...)
		d.URLs = append([]service.ConfigURL(nil), d.URLs...)
		svc.ConfigurationDatabase = &d
	}
	return svc
}

func clonePlayer(p player.Player) player.Player {
	p.Groups = append([]player.Group(nil), p.Groups...)
	if p.TokenInvalidSince != nil {
		t := *p.TokenInvalidSince
		p.TokenInvalidSince = &t
	}
	return p
}
