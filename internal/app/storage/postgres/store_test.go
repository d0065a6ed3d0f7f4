package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/step-security-bot/neucore/internal/app/domain/evelogin"
	"github.com/step-security-bot/neucore/internal/app/domain/player"
	"github.com/step-security-bot/neucore/internal/app/domain/service"
	"github.com/step-security-bot/neucore/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetServiceNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, name, configuration_file, configuration_database`).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetService(context.Background(), 42)
	require.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetServiceDecodesConfigurations(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "configuration_file", "configuration_database"}).
		AddRow(int64(1), "forum",
			[]byte(`{"plugin":"forum-plugin","requiredGroups":[1,2]}`),
			[]byte(`{"active":true}`))
	mock.ExpectQuery(`SELECT id, name, configuration_file, configuration_database`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	svc, err := store.GetService(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "forum", svc.Name)
	require.NotNil(t, svc.ConfigurationFile)
	require.Equal(t, "forum-plugin", svc.ConfigurationFile.Plugin)
	require.NotNil(t, svc.ConfigurationDatabase)
	require.True(t, svc.ConfigurationDatabase.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLoginNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM eve_logins`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteLogin(context.Background(), 7)
	require.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountTokens(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM esi_tokens`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := store.CountTokens(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 5, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := Open(dsn, 5, 2)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	svc, err := store.CreateService(ctx, service.Service{
		Name:              "integration",
		ConfigurationFile: &service.PluginConfigFile{Plugin: "forum-plugin"},
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	defer func() { _ = store.DeleteService(ctx, svc.ID) }()

	login, err := store.CreateLogin(ctx, evelogin.Login{Name: "integration"})
	if err != nil {
		t.Fatalf("create login: %v", err)
	}
	defer func() { _ = store.DeleteLogin(ctx, login.ID) }()

	p, err := store.CreatePlayer(ctx, player.Player{Name: "owner"})
	if err != nil {
		t.Fatalf("create player: %v", err)
	}
	if _, err := store.CreateCharacter(ctx, player.Character{ID: 999999901, PlayerID: p.ID, Main: true}); err != nil {
		t.Fatalf("create character: %v", err)
	}

	characters, err := store.ListCharacters(ctx, p.ID)
	if err != nil || len(characters) != 1 {
		t.Fatalf("list characters: %v %v", characters, err)
	}
	if characters[0].PlayerName != "owner" {
		t.Fatalf("player name not joined: %+v", characters[0])
	}
}
