package accounts

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary of AccountManager. Implementations
// live in the repository package.
type Repository interface {
	TransactionManager
	Accounts() Accounts
	Codes() VerificationCodes
}

// TransactionManager runs fn atomically. The Repository handed to fn is
// scoped to the transaction; calling RunInTx on it reuses the open
// transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// Accounts persists Account records. Misses return ErrAccountNotFound and
// a write that would duplicate an e-mail returns ErrEmailTaken.
type Accounts interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// ExistsByEmail reports whether another account uses email. Pass
	// uuid.Nil to check against every account.
	ExistsByEmail(ctx context.Context, email string, excludingID uuid.UUID) (bool, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	// Update writes every editable column from account.
	Update(ctx context.Context, account *Account) (*Account, error)
	// UpdateStatus, UpdateCredentials and UpdateEmail write only their own
	// columns and return the stored account after the write.
	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*Account, error)
	UpdateCredentials(ctx context.Context, id uuid.UUID, salt, passwordHash string) (*Account, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) (*Account, error)
	SetRoles(ctx context.Context, accountID uuid.UUID, roles []string) error
}

// VerificationCodes persists VerificationCode records. Misses return
// ErrCodeNotFound.
type VerificationCodes interface {
	FindByID(ctx context.Context, id uuid.UUID) (*VerificationCode, error)
	FindByPurpose(ctx context.Context, accountID uuid.UUID, purpose Purpose) (*VerificationCode, error)
	FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*VerificationCode, error)
	Create(ctx context.Context, code *VerificationCode) (*VerificationCode, error)
	Delete(ctx context.Context, code *VerificationCode) error
	DeleteByPurpose(ctx context.Context, accountID uuid.UUID, purpose Purpose) error
	// RegisterAttempt increments the attempt counter in a single write and
	// returns the stored code after the increment.
	RegisterAttempt(ctx context.Context, id uuid.UUID) (*VerificationCode, error)
}
