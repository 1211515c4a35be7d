package accounts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAccountFinder implements accounts.AccountFinder
type MockAccountFinder struct {
	mock.Mock
}

func (m *MockAccountFinder) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	args := m.Called(ctx, email)
	if account, ok := args.Get(0).(*accounts.Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}

func hashedAccount(t *testing.T, status accounts.AccountStatus) *accounts.Account {
	t.Helper()
	salt, err := accounts.GenerateSalt()
	require.NoError(t, err)
	hash, err := testEncoder().Hash("password123", salt)
	require.NoError(t, err)

	return &accounts.Account{
		ID:           uuid.New(),
		Name:         "Test",
		Email:        "test@example.com",
		Salt:         salt,
		PasswordHash: hash,
		Status:       status,
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful login", func(t *testing.T) {
		finder := new(MockAccountFinder)
		account := hashedAccount(t, accounts.StatusActive)
		finder.On("FindByEmail", ctx, "test@example.com").Return(account, nil).Once()

		authenticator := accounts.NewAuthenticator(finder, testEncoder()).WithLogger(accounts.NoopLogger())

		got, err := authenticator.Authenticate(ctx, "test@example.com", "password123")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		finder.AssertExpectations(t)
	})

	t.Run("Wrong password", func(t *testing.T) {
		finder := new(MockAccountFinder)
		finder.On("FindByEmail", ctx, "test@example.com").Return(hashedAccount(t, accounts.StatusActive), nil).Once()

		authenticator := accounts.NewAuthenticator(finder, testEncoder()).WithLogger(accounts.NoopLogger())

		_, err := authenticator.Authenticate(ctx, "test@example.com", "wrong")
		require.Error(t, err)
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeInvalidCredentials))
	})

	t.Run("Unknown email looks like a wrong password", func(t *testing.T) {
		finder := new(MockAccountFinder)
		finder.On("FindByEmail", ctx, "nobody@example.com").Return(nil, accounts.ErrAccountNotFound).Once()

		authenticator := accounts.NewAuthenticator(finder, testEncoder()).WithLogger(accounts.NoopLogger())

		_, err := authenticator.Authenticate(ctx, "nobody@example.com", "password123")
		require.Error(t, err)
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeInvalidCredentials))
	})

	t.Run("Store failure", func(t *testing.T) {
		finder := new(MockAccountFinder)
		finder.On("FindByEmail", ctx, "test@example.com").Return(nil, errors.New("connection reset")).Once()

		authenticator := accounts.NewAuthenticator(finder, testEncoder()).WithLogger(accounts.NoopLogger())

		_, err := authenticator.Authenticate(ctx, "test@example.com", "password123")
		require.Error(t, err)

		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, goerrors.CategoryInternal, richErr.Category)
	})

	t.Run("Status checks", func(t *testing.T) {
		cases := []struct {
			name     string
			status   accounts.AccountStatus
			textCode string
		}{
			{name: "locked", status: accounts.StatusLocked, textCode: accounts.TextCodeAccountLocked},
			{name: "needs activation", status: accounts.StatusNeedsActivation, textCode: accounts.TextCodeAccountNeedsActivation},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				finder := new(MockAccountFinder)
				account := hashedAccount(t, tc.status)
				finder.On("FindByEmail", ctx, "test@example.com").Return(account, nil).Once()

				authenticator := accounts.NewAuthenticator(finder, testEncoder()).WithLogger(accounts.NoopLogger())

				_, err := authenticator.Authenticate(ctx, "test@example.com", "password123")
				require.Error(t, err)
				assert.True(t, accounts.HasTextCode(err, tc.textCode))

				var richErr *goerrors.Error
				require.True(t, goerrors.As(err, &richErr))
				assert.Equal(t, account.ID.String(), richErr.Metadata["account_id"])
			})
		}
	})
}
