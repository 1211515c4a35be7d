package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", SQLiteDSN(":memory:"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	require.NoError(t, Migrate(context.Background(), bunDB, accounts.DriverSQLite))

	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	return NewStore(bunDB)
}

func TestStoreContract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) accounts.Repository {
		return setupStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, Migrate(context.Background(), store.DB(), accounts.DriverSQLite))
}

func TestMigrateUnknownDriver(t *testing.T) {
	store := setupStore(t)
	assert.Error(t, Migrate(context.Background(), store.DB(), "oracle"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "plain path", dsn: "/tmp/a.db", want: "/tmp/a.db?_pragma=foreign_keys(1)&_foreign_keys=1"},
		{name: "existing query", dsn: "file::memory:?cache=shared", want: "file::memory:?cache=shared&_pragma=foreign_keys(1)&_foreign_keys=1"},
		{name: "already set", dsn: "file:a.db?_pragma=foreign_keys(1)&_fk=1", want: "file:a.db?_pragma=foreign_keys(1)&_fk=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SQLiteDSN(tt.dsn))
		})
	}
}

func openFileStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, accounts.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, Migrate(ctx, db, accounts.DriverSQLite))
	return NewStore(db)
}

func TestOpenSQLiteEnforcesForeignKeysOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	store := openFileStore(t)

	first, err := store.DB().Conn(ctx)
	require.NoError(t, err)
	defer first.Close()

	second, err := store.DB().Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for i, conn := range []bun.Conn{first, second} {
		var enabled int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
		assert.Equal(t, 1, enabled, "connection %d", i)
	}
}

func TestFileStoreCascadesAccountDelete(t *testing.T) {
	ctx := context.Background()
	store := openFileStore(t)

	account := newAccount("a@x.com")
	account.AddRole("admin")
	created, err := store.Accounts().Create(ctx, account)
	require.NoError(t, err)

	_, err = store.Codes().Create(ctx, newCode(t, created, accounts.PurposeActivation))
	require.NoError(t, err)

	// hold a connection so the delete runs on another one
	held, err := store.DB().Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	require.NoError(t, store.DeleteAccount(ctx, created.ID))

	codes, err := store.Codes().FindByAccount(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, codes)

	roles, err := store.DB().NewSelect().
		Model((*accounts.AccountRole)(nil)).
		Where("account_id = ?", created.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, roles)
}

func TestStoreWithAccountManager(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	manager := accounts.NewAccountManager(store, accounts.PBKDF2Encoder{Iterations: 1000, KeyLen: 32}, nil,
		accounts.WithManagerLogger(accounts.NoopLogger()),
	)

	account, err := manager.Register(ctx, &accounts.Account{Name: "Alice", Email: "a@x.com"}, "secret123")
	require.NoError(t, err)
	code := account.CodeFor(accounts.PurposeActivation)
	require.NotNil(t, code)

	t.Run("attempts are persisted until exhaustion", func(t *testing.T) {
		for i := 1; i < accounts.MaxAttempts; i++ {
			found, err := manager.ConfirmCode(ctx, code, accounts.PurposeActivation, "wrong")
			require.NoError(t, err)
			assert.Nil(t, found)
		}

		stored, err := store.Codes().FindByID(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, accounts.MaxAttempts-1, stored.Attempts)

		found, err := manager.ConfirmCode(ctx, code, accounts.PurposeActivation, code.Code)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, account.ID, found.ID)

		found, err = manager.ConfirmCode(ctx, code, accounts.PurposeActivation, "wrong")
		require.NoError(t, err)
		assert.Nil(t, found)

		_, err = store.Codes().FindByID(ctx, code.ID)
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("resend then activate", func(t *testing.T) {
		fresh, err := manager.ResendActivation(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, 0, fresh.Attempts)

		owner, err := manager.ConfirmCode(ctx, fresh, accounts.PurposeActivation, fresh.Code)
		require.NoError(t, err)
		require.NotNil(t, owner)

		activated, err := manager.Activate(ctx, owner)
		require.NoError(t, err)
		account = activated

		stored, err := store.Accounts().FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, accounts.StatusActive, stored.Status)
		assert.Empty(t, stored.Codes)
	})

	t.Run("email change", func(t *testing.T) {
		ok, _, err := manager.RequestEmailChange(ctx, account, "new@x.com")
		require.NoError(t, err)
		require.True(t, ok)

		applied, err := manager.ConfirmEmailChange(ctx, account)
		require.NoError(t, err)
		assert.True(t, applied)

		stored, err := store.Accounts().FindByEmail(ctx, "new@x.com")
		require.NoError(t, err)
		assert.Equal(t, account.ID, stored.ID)
	})

	t.Run("authenticate against the store", func(t *testing.T) {
		auth := accounts.NewAuthenticator(store.Accounts(), accounts.PBKDF2Encoder{Iterations: 1000, KeyLen: 32}).
			WithLogger(accounts.NoopLogger())

		found, err := auth.Authenticate(ctx, "new@x.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, account.ID, found.ID)
	})
}
