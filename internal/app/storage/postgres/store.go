// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ServiceStore = (*Store)(nil)
var _ storage.LoginStore = (*Store)(nil)
var _ storage.PlayerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// --- ServiceStore -----------------------------------------------------------

func (s *Store) CreateService(ctx context.Context, svc service.Service) (service.Service, error) {
	fileJSON, dbJSON, err := marshalConfigs(svc)
	if err != nil {
		return service.Service{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO services (name, configuration_file, configuration_database)
		VALUES ($1, $2, $3)
		RETURNING id
	`, svc.Name, fileJSON, dbJSON).Scan(&svc.ID)
	if err != nil {
		return service.Service{}, err
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, svc service.Service) (service.Service, error) {
	fileJSON, dbJSON, err := marshalConfigs(svc)
	if err != nil {
		return service.Service{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE services
		SET name = $2, configuration_file = $3, configuration_database = $4
		WHERE id = $1
	`, svc.ID, svc.Name, fileJSON, dbJSON)
	if err != nil {
		return service.Service{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return service.Service{}, notFound("service %d", svc.ID)
	}
	return svc, nil
}

func (s *Store) GetService(ctx context.Context, id int64) (service.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, configuration_file, configuration_database
		FROM services
		WHERE id = $1
	`, id)

	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return service.Service{}, notFound("service %d", id)
	}
	return svc, err
}

func (s *Store) ListServices(ctx context.Context) ([]service.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, configuration_file, configuration_database
		FROM services
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []service.Service{}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, svc)
	}
	return result, rows.Err()
}

func (s *Store) DeleteService(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return notFound("service %d", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (service.Service, error) {
	var (
		svc     service.Service
		fileRaw []byte
		dbRaw   []byte
	)
	if err := row.Scan(&svc.ID, &svc.Name, &fileRaw, &dbRaw); err != nil {
		return service.Service{}, err
	}
	if len(fileRaw) > 0 {
		var cfg service.PluginConfigFile
		if err := json.Unmarshal(fileRaw, &cfg); err != nil {
			return service.Service{}, err
		}
		svc.ConfigurationFile = &cfg
	}
	if len(dbRaw) > 0 {
		var cfg service.PluginConfigDatabase
		if err := json.Unmarshal(dbRaw, &cfg); err != nil {
			return service.Service{}, err
		}
		svc.ConfigurationDatabase = &cfg
	}
	return svc, nil
}

func marshalConfigs(svc service.Service) ([]byte, []byte, error) {
	var fileJSON, dbJSON []byte
	var err error
	if svc.ConfigurationFile != nil {
		if fileJSON, err = json.Marshal(svc.ConfigurationFile); err != nil {
			return nil, nil, err
		}
	}
	if svc.ConfigurationDatabase != nil {
		if dbJSON, err = json.Marshal(svc.ConfigurationDatabase); err != nil {
			return nil, nil, err
		}
	}
	return fileJSON, dbJSON, nil
}

// --- LoginStore -------------------------------------------------------------

func (s *Store) CreateLogin(ctx context.Context, login evelogin.Login) (evelogin.Login, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO eve_logins (name, description, esi_scopes, eve_roles)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, login.Name, login.Description, login.EsiScopes, login.EveRoles).Scan(&login.ID)
	if err != nil {
		return evelogin.Login{}, err
	}
	return login, nil
}

func (s *Store) GetLogin(ctx context.Context, id int64) (evelogin.Login, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, esi_scopes, eve_roles
		FROM eve_logins
		WHERE id = $1
	`, id)
	return scanLogin(row, fmt.Sprintf("login %d", id))
}

func (s *Store) GetLoginByName(ctx context.Context, name string) (evelogin.Login, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, esi_scopes, eve_roles
		FROM eve_logins
		WHERE name = $1
	`, name)
	return scanLogin(row, fmt.Sprintf("login %q", name))
}

func scanLogin(row *sql.Row, what string) (evelogin.Login, error) {
	var login evelogin.Login
	err := row.Scan(&login.ID, &login.Name, &login.Description, &login.EsiScopes, &login.EveRoles)
	if errors.Is(err, sql.ErrNoRows) {
		return evelogin.Login{}, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	if err != nil {
		return evelogin.Login{}, err
	}
	return login, nil
}

func (s *Store) ListLogins(ctx context.Context) ([]evelogin.Login, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, esi_scopes, eve_roles
		FROM eve_logins
		ORDER BY LOWER(name), id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []evelogin.Login{}
	for rows.Next() {
		var login evelogin.Login
		if err := rows.Scan(&login.ID, &login.Name, &login.Description, &login.EsiScopes, &login.EveRoles); err != nil {
			return nil, err
		}
		result = append(result, login)
	}
	return result, rows.Err()
}

func (s *Store) DeleteLogin(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM eve_logins WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return notFound("login %d", id)
	}
	return nil
}

func (s *Store) CreateToken(ctx context.Context, token evelogin.Token) (evelogin.Token, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO esi_tokens (login_id, character_id, character_name, valid)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, token.LoginID, token.CharacterID, token.CharacterName, token.Valid).Scan(&token.ID)
	if err != nil {
		return evelogin.Token{}, err
	}
	return token, nil
}

func (s *Store) UpdateToken(ctx context.Context, token evelogin.Token) (evelogin.Token, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE esi_tokens
		SET login_id = $2, character_id = $3, character_name = $4, valid = $5
		WHERE id = $1
	`, token.ID, token.LoginID, token.CharacterID, token.CharacterName, token.Valid)
	if err != nil {
		return evelogin.Token{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return evelogin.Token{}, notFound("token %d", token.ID)
	}
	return token, nil
}

func (s *Store) ListTokens(ctx context.Context, loginID int64) ([]evelogin.Token, error) {
	return s.queryTokens(ctx, `
		SELECT id, login_id, character_id, character_name, valid
		FROM esi_tokens
		WHERE login_id = $1
		ORDER BY id
	`, loginID)
}

func (s *Store) ListTokensByCharacter(ctx context.Context, characterID int64) ([]evelogin.Token, error) {
	return s.queryTokens(ctx, `
		SELECT id, login_id, character_id, character_name, valid
		FROM esi_tokens
		WHERE character_id = $1
		ORDER BY id
	`, characterID)
}

func (s *Store) queryTokens(ctx context.Context, query string, arg int64) ([]evelogin.Token, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []evelogin.Token{}
	for rows.Next() {
		var t evelogin.Token
		if err := rows.Scan(&t.ID, &t.LoginID, &t.CharacterID, &t.CharacterName, &t.Valid); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) CountTokens(ctx context.Context, loginID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM esi_tokens WHERE login_id = $1
	`, loginID).Scan(&count)
	return count, err
}

// --- PlayerStore ------------------------------------------------------------

func (s *Store) CreatePlayer(ctx context.Context, p player.Player) (player.Player, error) {
	groupsJSON, err := json.Marshal(p.Groups)
	if err != nil {
		return player.Player{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO players (name, groups, token_invalid_since)
		VALUES ($1, $2, $3)
		RETURNING id
	`, p.Name, groupsJSON, p.TokenInvalidSince).Scan(&p.ID)
	if err != nil {
		return player.Player{}, err
	}
	return p, nil
}

func (s *Store) UpdatePlayer(ctx context.Context, p player.Player) (player.Player, error) {
	groupsJSON, err := json.Marshal(p.Groups)
	if err != nil {
		return player.Player{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE players
		SET name = $2, groups = $3, token_invalid_since = $4
		WHERE id = $1
	`, p.ID, p.Name, groupsJSON, p.TokenInvalidSince)
	if err != nil {
		return player.Player{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return player.Player{}, notFound("player %d", p.ID)
	}
	return p, nil
}

func (s *Store) GetPlayer(ctx context.Context, id int64) (player.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, groups, token_invalid_since
		FROM players
		WHERE id = $1
	`, id)

	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return player.Player{}, notFound("player %d", id)
	}
	return p, err
}

func (s *Store) ListPlayers(ctx context.Context) ([]player.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, groups, token_invalid_since
		FROM players
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []player.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPlayer(row rowScanner) (player.Player, error) {
	var (
		p         player.Player
		groupsRaw []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &groupsRaw, &p.TokenInvalidSince); err != nil {
		return player.Player{}, err
	}
	if len(groupsRaw) > 0 {
		if err := json.Unmarshal(groupsRaw, &p.Groups); err != nil {
			return player.Player{}, err
		}
	}
	return p, nil
}

func (s *Store) CreateCharacter(ctx context.Context, c player.Character) (player.Character, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (id, player_id, name, main, corporation_id, corporation_name, alliance_id, alliance_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.PlayerID, c.Name, c.Main, c.CorporationID, c.CorporationName, c.AllianceID, c.AllianceName)
	if err != nil {
		return player.Character{}, err
	}
	return c, nil
}

func (s *Store) GetCharacter(ctx context.Context, id int64) (player.Character, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.player_id, p.name, c.name, c.main, c.corporation_id, c.corporation_name, c.alliance_id, c.alliance_name
		FROM characters c
		JOIN players p ON p.id = c.player_id
		WHERE c.id = $1
	`, id)

	var c player.Character
	err := row.Scan(&c.ID, &c.PlayerID, &c.PlayerName, &c.Name, &c.Main,
		&c.CorporationID, &c.CorporationName, &c.AllianceID, &c.AllianceName)
	if errors.Is(err, sql.ErrNoRows) {
		return player.Character{}, notFound("character %d", id)
	}
	if err != nil {
		return player.Character{}, err
	}
	return c, nil
}

func (s *Store) ListCharacters(ctx context.Context, playerID int64) ([]player.Character, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.player_id, p.name, c.name, c.main, c.corporation_id, c.corporation_name, c.alliance_id, c.alliance_name
		FROM characters c
		JOIN players p ON p.id = c.player_id
		WHERE c.player_id = $1
		ORDER BY c.main DESC, c.id
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []player.Character{}
	for rows.Next() {
		var c player.Character
		if err := rows.Scan(&c.ID, &c.PlayerID, &c.PlayerName, &c.Name, &c.Main,
			&c.CorporationID, &c.CorporationName, &c.AllianceID, &c.AllianceName); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, storage.ErrNotFound)...)
}
