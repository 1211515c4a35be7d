package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deleter interface {
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

type repoFactory func(t *testing.T) accounts.Repository

func newAccount(email string) *accounts.Account {
	return &accounts.Account{
		Name:         "Test",
		Email:        email,
		PasswordHash: "hash",
		Salt:         "salt",
		Status:       accounts.StatusNeedsActivation,
	}
}

func newCode(t *testing.T, account *accounts.Account, purpose accounts.Purpose) *accounts.VerificationCode {
	t.Helper()
	code, err := accounts.NewVerificationCode(account, purpose)
	require.NoError(t, err)
	return code
}

// runRepositoryContract exercises the behaviour every accounts.Repository
// implementation must share.
func runRepositoryContract(t *testing.T, factory repoFactory) {
	ctx := context.Background()

	t.Run("create and find accounts", func(t *testing.T) {
		repo := factory(t)
		account := newAccount("a@x.com")
		account.AddRole("admin")

		created, err := repo.Accounts().Create(ctx, account)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, created.ID)
		require.NotNil(t, created.CreatedAt)

		byID, err := repo.Accounts().FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", byID.Email)
		assert.Equal(t, accounts.StatusNeedsActivation, byID.Status)
		assert.Equal(t, []string{"admin"}, byID.RoleNames())

		byEmail, err := repo.Accounts().FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byEmail.ID)

		_, err = repo.Accounts().FindByEmail(ctx, "missing@x.com")
		assert.True(t, accounts.IsNotFound(err))

		_, err = repo.Accounts().FindByID(ctx, uuid.New())
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("email is unique", func(t *testing.T) {
		repo := factory(t)
		first, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)

		_, err = repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.Error(t, err)
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeEmailTaken))

		second, err := repo.Accounts().Create(ctx, newAccount("b@x.com"))
		require.NoError(t, err)
		second.Email = "a@x.com"
		_, err = repo.Accounts().Update(ctx, second)
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeEmailTaken))

		_, err = repo.Accounts().UpdateEmail(ctx, second.ID, "a@x.com")
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeEmailTaken))

		taken, err := repo.Accounts().ExistsByEmail(ctx, "a@x.com", uuid.Nil)
		require.NoError(t, err)
		assert.True(t, taken)

		taken, err = repo.Accounts().ExistsByEmail(ctx, "a@x.com", first.ID)
		require.NoError(t, err)
		assert.False(t, taken)
	})

	t.Run("update", func(t *testing.T) {
		repo := factory(t)
		account, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)

		account.Status = accounts.StatusActive
		account.Email = "b@x.com"
		_, err = repo.Accounts().Update(ctx, account)
		require.NoError(t, err)

		stored, err := repo.Accounts().FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, accounts.StatusActive, stored.Status)
		assert.Equal(t, "b@x.com", stored.Email)

		_, err = repo.Accounts().Update(ctx, &accounts.Account{ID: uuid.New(), Email: "c@x.com"})
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("column updates leave other columns alone", func(t *testing.T) {
		repo := factory(t)
		account, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)

		updated, err := repo.Accounts().UpdateCredentials(ctx, account.ID, "salt2", "hash2")
		require.NoError(t, err)
		assert.Equal(t, "hash2", updated.PasswordHash)

		updated, err = repo.Accounts().UpdateStatus(ctx, account.ID, accounts.StatusActive)
		require.NoError(t, err)
		assert.Equal(t, accounts.StatusActive, updated.Status)
		assert.Equal(t, "salt2", updated.Salt)
		assert.Equal(t, "hash2", updated.PasswordHash)

		updated, err = repo.Accounts().UpdateEmail(ctx, account.ID, "b@x.com")
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", updated.Email)

		stored, err := repo.Accounts().FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", stored.Email)
		assert.Equal(t, accounts.StatusActive, stored.Status)
		assert.Equal(t, "salt2", stored.Salt)
		assert.Equal(t, "hash2", stored.PasswordHash)
		assert.Equal(t, "Test", stored.Name)

		_, err = repo.Accounts().UpdateStatus(ctx, uuid.New(), accounts.StatusActive)
		assert.True(t, accounts.IsNotFound(err))
		_, err = repo.Accounts().UpdateCredentials(ctx, uuid.New(), "s", "h")
		assert.True(t, accounts.IsNotFound(err))
		_, err = repo.Accounts().UpdateEmail(ctx, uuid.New(), "c@x.com")
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("set roles replaces labels", func(t *testing.T) {
		repo := factory(t)
		account, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)

		require.NoError(t, repo.Accounts().SetRoles(ctx, account.ID, []string{"admin", "editor", "admin"}))
		stored, err := repo.Accounts().FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"admin", "editor"}, stored.RoleNames())

		require.NoError(t, repo.Accounts().SetRoles(ctx, account.ID, nil))
		stored, err = repo.Accounts().FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.RoleNames())
	})

	t.Run("codes", func(t *testing.T) {
		repo := factory(t)
		account, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)

		activation := newCode(t, account, accounts.PurposeActivation)
		require.NoError(t, activation.SetPayload(map[string]string{"k": "v"}))
		_, err = repo.Codes().Create(ctx, activation)
		require.NoError(t, err)

		_, err = repo.Codes().Create(ctx, newCode(t, account, accounts.PurposeActivation))
		assert.Error(t, err, "one code per account and purpose")

		reset := newCode(t, account, accounts.PurposeRememberPassword)
		_, err = repo.Codes().Create(ctx, reset)
		require.NoError(t, err)

		found, err := repo.Codes().FindByID(ctx, activation.ID)
		require.NoError(t, err)
		assert.Equal(t, activation.Code, found.Code)
		assert.JSONEq(t, `{"k":"v"}`, string(found.Data))

		found, err = repo.Codes().FindByPurpose(ctx, account.ID, accounts.PurposeRememberPassword)
		require.NoError(t, err)
		assert.Equal(t, reset.ID, found.ID)

		all, err := repo.Codes().FindByAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		owner, err := repo.Accounts().FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Len(t, owner.Codes, 2)

		require.NoError(t, repo.Codes().DeleteByPurpose(ctx, account.ID, accounts.PurposeActivation))
		_, err = repo.Codes().FindByID(ctx, activation.ID)
		assert.True(t, accounts.IsNotFound(err))

		require.NoError(t, repo.Codes().Delete(ctx, reset))
		err = repo.Codes().Delete(ctx, reset)
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("register attempt", func(t *testing.T) {
		repo := factory(t)
		account, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)
		code, err := repo.Codes().Create(ctx, newCode(t, account, accounts.PurposeActivation))
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			updated, err := repo.Codes().RegisterAttempt(ctx, code.ID)
			require.NoError(t, err)
			assert.Equal(t, i, updated.Attempts)
		}

		_, err = repo.Codes().RegisterAttempt(ctx, uuid.New())
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("transactions roll back", func(t *testing.T) {
		repo := factory(t)
		rollback := errors.New("rollback")

		err := repo.RunInTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
			account, err := tx.Accounts().Create(ctx, newAccount("a@x.com"))
			if err != nil {
				return err
			}
			if _, err := tx.Codes().Create(ctx, newCode(t, account, accounts.PurposeActivation)); err != nil {
				return err
			}
			return rollback
		})
		require.ErrorIs(t, err, rollback)

		_, err = repo.Accounts().FindByEmail(ctx, "a@x.com")
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("nested transactions share the outer one", func(t *testing.T) {
		repo := factory(t)

		err := repo.RunInTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
			return tx.RunInTx(ctx, func(ctx context.Context, inner accounts.Repository) error {
				_, err := inner.Accounts().Create(ctx, newAccount("a@x.com"))
				return err
			})
		})
		require.NoError(t, err)

		_, err = repo.Accounts().FindByEmail(ctx, "a@x.com")
		assert.NoError(t, err)
	})

	t.Run("concurrent attempts serialize", func(t *testing.T) {
		repo := factory(t)
		account, err := repo.Accounts().Create(ctx, newAccount("a@x.com"))
		require.NoError(t, err)
		code, err := repo.Codes().Create(ctx, newCode(t, account, accounts.PurposeActivation))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = repo.RunInTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
					_, err := tx.Codes().RegisterAttempt(ctx, code.ID)
					return err
				})
			}()
		}
		wg.Wait()

		stored, err := repo.Codes().FindByID(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, stored.Attempts)
	})

	t.Run("deleting an account cascades", func(t *testing.T) {
		repo := factory(t)
		d, ok := repo.(deleter)
		require.True(t, ok)

		account := newAccount("a@x.com")
		account.AddRole("admin")
		account, err := repo.Accounts().Create(ctx, account)
		require.NoError(t, err)
		code, err := repo.Codes().Create(ctx, newCode(t, account, accounts.PurposeActivation))
		require.NoError(t, err)

		require.NoError(t, d.DeleteAccount(ctx, account.ID))

		_, err = repo.Codes().FindByID(ctx, code.ID)
		assert.True(t, accounts.IsNotFound(err))
		_, err = repo.Accounts().FindByID(ctx, account.ID)
		assert.True(t, accounts.IsNotFound(err))

		assert.True(t, accounts.IsNotFound(d.DeleteAccount(ctx, account.ID)))
	})
}
