package accounts

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// AccountFinder is the store the Authenticator reads accounts from
type AccountFinder interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// Authenticator verifies e-mail and password credentials
type Authenticator struct {
	store   AccountFinder
	encoder PasswordEncoder
	logger  Logger
}

// NewAuthenticator will create a new Authenticator. A nil encoder defaults
// to argon2id.
func NewAuthenticator(store AccountFinder, encoder PasswordEncoder) *Authenticator {
	if encoder == nil {
		encoder = NewArgon2Encoder()
	}
	return &Authenticator{
		store:   store,
		encoder: encoder,
		logger:  ResolveLogger("accounts.authenticator", nil, nil),
	}
}

func (a *Authenticator) WithLogger(l Logger) *Authenticator {
	a.logger = ResolveLogger("accounts.authenticator", nil, l)
	return a
}

// WithLoggerProvider overrides the logger provider used by the authenticator.
func (a *Authenticator) WithLoggerProvider(provider LoggerProvider) *Authenticator {
	a.logger = ResolveLogger("accounts.authenticator", provider, a.logger)
	return a
}

// Authenticate returns the account for valid credentials.
//
// Unknown e-mails and wrong passwords both return ErrInvalidCredentials.
// Status is only checked once the password matched, so locked and
// needs_activation are never disclosed to someone without the password.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account during authentication")
	}

	ok, err := PasswordMatches(a.encoder, password, account.Salt, account.PasswordHash)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify password")
	}

	if !ok {
		a.logger.WithContext(ctx).Debug("password mismatch", "account_id", account.ID.String())
		return nil, ErrInvalidCredentials
	}

	switch account.Status {
	case StatusActive:
		return account, nil
	case StatusLocked:
		return nil, ErrAccountLocked.Clone().WithMetadata(map[string]any{
			"account_id": account.ID.String(),
		})
	case StatusNeedsActivation:
		return nil, ErrAccountNeedsActivation.Clone().WithMetadata(map[string]any{
			"account_id": account.ID.String(),
		})
	}

	return nil, ErrInvalidCredentials
}
