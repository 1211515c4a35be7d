package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const defaultTransitionTimeout = time.Second * 10

// VerificationOutcome is the result of a ConfirmCode call
type VerificationOutcome string

const (
	VerificationMatched    VerificationOutcome = "matched"
	VerificationMismatched VerificationOutcome = "mismatched"
	VerificationExhausted  VerificationOutcome = "exhausted"
)

// VerificationObserver is notified of every ConfirmCode outcome. Observers
// run after the transaction commits and can not fail the call.
type VerificationObserver interface {
	ObserveVerification(ctx context.Context, purpose Purpose, outcome VerificationOutcome)
}

// VerificationObserverFunc adapts a function to VerificationObserver
type VerificationObserverFunc func(ctx context.Context, purpose Purpose, outcome VerificationOutcome)

// ObserveVerification implements VerificationObserver.
func (f VerificationObserverFunc) ObserveVerification(ctx context.Context, purpose Purpose, outcome VerificationOutcome) {
	if f != nil {
		f(ctx, purpose, outcome)
	}
}

// ManagerOption configures an AccountManager
type ManagerOption func(*AccountManager)

// WithManagerLogger overrides the logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *AccountManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerLoggerProvider resolves the "accounts.manager" logger from provider.
func WithManagerLoggerProvider(provider LoggerProvider) ManagerOption {
	return func(m *AccountManager) {
		if provider != nil {
			m.logger = ResolveLogger("accounts.manager", provider, m.logger)
		}
	}
}

// WithManagerClock overrides the time source used for event timestamps.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *AccountManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSaltGenerator overrides salt generation.
func WithSaltGenerator(gen func() (string, error)) ManagerOption {
	return func(m *AccountManager) {
		if gen != nil {
			m.salt = gen
		}
	}
}

// WithManagerTimeout bounds each transition. Zero disables the bound.
func WithManagerTimeout(timeout time.Duration) ManagerOption {
	return func(m *AccountManager) {
		if timeout >= 0 {
			m.timeout = timeout
		}
	}
}

// WithVerificationObserver registers an observer for ConfirmCode outcomes.
func WithVerificationObserver(observer VerificationObserver) ManagerOption {
	return func(m *AccountManager) {
		if observer != nil {
			m.observers = append(m.observers, observer)
		}
	}
}

// AccountManager owns every account and verification code transition.
// Each transition runs in a single transaction and publishes exactly one
// event after commit.
type AccountManager struct {
	repo      Repository
	encoder   PasswordEncoder
	sink      EventSink
	logger    Logger
	now       func() time.Time
	salt      func() (string, error)
	timeout   time.Duration
	observers []VerificationObserver
}

// NewAccountManager creates a manager. A nil encoder defaults to argon2id and
// a nil sink discards events.
func NewAccountManager(repo Repository, encoder PasswordEncoder, sink EventSink, opts ...ManagerOption) *AccountManager {
	if encoder == nil {
		encoder = NewArgon2Encoder()
	}

	m := &AccountManager{
		repo:    repo,
		encoder: encoder,
		sink:    normalizeEventSink(sink),
		logger:  ResolveLogger("accounts.manager", nil, nil),
		now:     time.Now,
		salt:    GenerateSalt,
		timeout: defaultTransitionTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Register persists a new account in needs_activation status together with
// its activation code, then publishes EventRegistration.
func (m *AccountManager) Register(ctx context.Context, account *Account, password string) (*Account, error) {
	if err := checkContext(ctx, "context cancelled during registration"); err != nil {
		return nil, err
	}

	if account == nil {
		return nil, ErrInvalidAccount.Clone().WithMetadata(map[string]any{"reason": "account is required"})
	}

	if account.ID != uuid.Nil {
		return nil, ErrInvalidState.Clone().WithMetadata(map[string]any{
			"reason":     "account already registered",
			"account_id": account.ID.String(),
		})
	}

	if err := account.Validate(); err != nil {
		clone := ErrInvalidAccount.Clone()
		clone.Source = err
		return nil, clone.WithMetadata(map[string]any{"cause": err.Error()})
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var (
		code     *VerificationCode
		snapshot = *account
	)

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		taken, err := tx.Accounts().ExistsByEmail(ctx, account.Email, uuid.Nil)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}
		if taken {
			return ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": account.Email})
		}

		account.ID = uuid.New()
		account.Status = StatusNeedsActivation

		if account.Salt == "" {
			if account.Salt, err = m.salt(); err != nil {
				return err
			}
		}

		if account.PasswordHash, err = m.encoder.Hash(password, account.Salt); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
		}

		if _, err := tx.Accounts().Create(ctx, account); err != nil {
			if HasTextCode(err, TextCodeEmailTaken) {
				return err
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create account")
		}

		if code, err = m.issueCode(ctx, tx, account, PurposeActivation, nil); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		*account = snapshot
		return nil, richError(err, "failed to register account")
	}

	account.attachCode(code)

	return account, m.publish(ctx, Event{
		Name:    EventRegistration,
		Account: account,
		Code:    code,
	})
}

// Activate moves the account to active and consumes its activation code.
func (m *AccountManager) Activate(ctx context.Context, account *Account) (*Account, error) {
	if err := checkContext(ctx, "context cancelled during activation"); err != nil {
		return nil, err
	}

	if err := requirePersisted(account); err != nil {
		return nil, err
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var stored *Account

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		if stored, err = tx.Accounts().UpdateStatus(ctx, account.ID, StatusActive); err != nil {
			return err
		}

		if err := tx.Codes().DeleteByPurpose(ctx, account.ID, PurposeActivation); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete activation code")
		}

		return nil
	})

	if err != nil {
		return nil, richError(err, "failed to activate account")
	}

	account.refresh(stored)
	account.detachCode(PurposeActivation)

	return account, m.publish(ctx, Event{
		Name:    EventActivation,
		Account: account,
	})
}

// ResendActivation supersedes the activation code of an account that has
// not been activated yet.
func (m *AccountManager) ResendActivation(ctx context.Context, account *Account) (*VerificationCode, error) {
	if err := checkContext(ctx, "context cancelled during activation resend"); err != nil {
		return nil, err
	}

	if err := requirePersisted(account); err != nil {
		return nil, err
	}

	return m.supersedeCode(ctx, account, PurposeActivation, EventActivationResent, func(current *Account) error {
		if current.NeedsActivation() {
			return nil
		}
		return ErrInvalidState.Clone().WithMetadata(map[string]any{
			"reason":     "account does not need activation",
			"account_id": current.ID.String(),
			"status":     string(current.Status),
		})
	})
}

// RequestPasswordReset replaces any remember_password code of the account
// with a fresh one, resetting its attempt budget.
func (m *AccountManager) RequestPasswordReset(ctx context.Context, account *Account) (*VerificationCode, error) {
	if err := checkContext(ctx, "context cancelled during password reset request"); err != nil {
		return nil, err
	}

	if err := requirePersisted(account); err != nil {
		return nil, err
	}

	return m.supersedeCode(ctx, account, PurposeRememberPassword, EventRememberPassword, nil)
}

// ChangePassword re-salts and re-hashes the account password and consumes
// any pending remember_password code.
func (m *AccountManager) ChangePassword(ctx context.Context, account *Account, password string) (*Account, error) {
	if err := checkContext(ctx, "context cancelled during password change"); err != nil {
		return nil, err
	}

	if err := requirePersisted(account); err != nil {
		return nil, err
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var stored *Account

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		salt, err := m.salt()
		if err != nil {
			return err
		}

		hash, err := m.encoder.Hash(password, salt)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if stored, err = tx.Accounts().UpdateCredentials(ctx, account.ID, salt, hash); err != nil {
			return err
		}

		if err := tx.Codes().DeleteByPurpose(ctx, account.ID, PurposeRememberPassword); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete password reset code")
		}

		return nil
	})

	if err != nil {
		return nil, richError(err, "failed to change password")
	}

	account.refresh(stored)
	account.detachCode(PurposeRememberPassword)

	return account, m.publish(ctx, Event{
		Name:        EventPasswordChanged,
		Account:     account,
		NewPassword: password,
	})
}

// RequestEmailChange issues a change_email code carrying newEmail. It returns
// false without touching the store when newEmail is the current e-mail.
func (m *AccountManager) RequestEmailChange(ctx context.Context, account *Account, newEmail string) (bool, *VerificationCode, error) {
	if err := checkContext(ctx, "context cancelled during email change request"); err != nil {
		return false, nil, err
	}

	if err := requirePersisted(account); err != nil {
		return false, nil, err
	}

	if newEmail == account.Email {
		return false, nil, nil
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var code *VerificationCode

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		code, err = m.issueCode(ctx, tx, account, PurposeChangeEmail, ChangeEmailPayload{NewEmail: newEmail})
		return err
	})

	if err != nil {
		return false, nil, richError(err, "failed to request email change")
	}

	account.attachCode(code)

	return true, code, m.publish(ctx, Event{
		Name:     EventChangeEmail,
		Account:  account,
		Code:     code,
		NewEmail: newEmail,
	})
}

// ConfirmEmailChange applies the e-mail stored on the account's change_email
// code and consumes the code. It returns false with a nil error when there
// is no pending change. A payload that can not be decoded returns false with
// ErrMalformedPayload and leaves the code in place.
func (m *AccountManager) ConfirmEmailChange(ctx context.Context, account *Account) (bool, error) {
	if err := checkContext(ctx, "context cancelled during email change confirmation"); err != nil {
		return false, err
	}

	if err := requirePersisted(account); err != nil {
		return false, err
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var stored *Account

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		code, err := tx.Codes().FindByPurpose(ctx, account.ID, PurposeChangeEmail)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load email change code")
		}

		var payload ChangeEmailPayload
		if err := code.DecodePayload(&payload); err != nil {
			return err
		}

		if payload.NewEmail == "" {
			return ErrMalformedPayload.Clone().WithMetadata(map[string]any{
				"code_id": code.ID.String(),
				"reason":  "missing newEmail",
			})
		}

		taken, err := tx.Accounts().ExistsByEmail(ctx, payload.NewEmail, account.ID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}
		if taken {
			return ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": payload.NewEmail})
		}

		if stored, err = tx.Accounts().UpdateEmail(ctx, account.ID, payload.NewEmail); err != nil {
			return err
		}

		if err := tx.Codes().Delete(ctx, code); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete email change code")
		}

		return nil
	})

	if err != nil {
		if HasTextCode(err, TextCodeMalformedPayload) {
			m.logger.WithContext(ctx).Warn("email change payload malformed",
				"account_id", account.ID.String(),
				"error", err,
			)
		}
		return false, richError(err, "failed to confirm email change")
	}

	if stored == nil {
		return false, nil
	}

	account.refresh(stored)
	account.detachCode(PurposeChangeEmail)

	return true, m.publish(ctx, Event{
		Name:     EventEmailChanged,
		Account:  account,
		NewEmail: account.Email,
	})
}

// ConfirmCode checks code against the expected purpose and value.
//
// On a match the owning account is returned and the code is left untouched;
// consuming it is up to the follow up transition. On a mismatch one attempt
// is spent and the code is deleted once MaxAttempts is reached; the result
// is nil with a nil error. A code that no longer exists returns
// ErrCodeNotFound.
func (m *AccountManager) ConfirmCode(ctx context.Context, code *VerificationCode, purpose Purpose, value string) (*Account, error) {
	if err := checkContext(ctx, "context cancelled during code confirmation"); err != nil {
		return nil, err
	}

	if code == nil || code.ID == uuid.Nil {
		return nil, ErrCodeNotFound
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var (
		account *Account
		outcome VerificationOutcome
		stored  *VerificationCode
	)

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		stored, err = tx.Codes().FindByID(ctx, code.ID)
		if err != nil {
			return err
		}

		if stored.Matches(purpose, value) {
			account, err = tx.Accounts().FindByID(ctx, stored.AccountID)
			if err != nil {
				return err
			}
			outcome = VerificationMatched
			return nil
		}

		stored, err = tx.Codes().RegisterAttempt(ctx, stored.ID)
		if err != nil {
			return err
		}

		if !stored.IsExpired() {
			outcome = VerificationMismatched
			return nil
		}

		if err := tx.Codes().Delete(ctx, stored); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete exhausted verification code")
		}
		outcome = VerificationExhausted
		return nil
	})

	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, richError(err, "failed to confirm verification code")
	}

	code.Attempts = stored.Attempts

	if outcome == VerificationExhausted {
		m.logger.WithContext(ctx).Info("verification code exhausted",
			"code_id", stored.ID.String(),
			"account_id", stored.AccountID.String(),
			"purpose", string(stored.Purpose),
		)
	}

	m.observe(ctx, stored.Purpose, outcome)

	return account, nil
}

// ConfirmCodeByID loads the code by id and runs ConfirmCode.
func (m *AccountManager) ConfirmCodeByID(ctx context.Context, id uuid.UUID, purpose Purpose, value string) (*Account, error) {
	return m.ConfirmCode(ctx, &VerificationCode{ID: id}, purpose, value)
}

// EmailAvailable reports whether email is free, ignoring the account with
// excludingID (pass uuid.Nil for new accounts).
func (m *AccountManager) EmailAvailable(ctx context.Context, email string, excludingID uuid.UUID) (bool, error) {
	if err := checkContext(ctx, "context cancelled during email availability check"); err != nil {
		return false, err
	}

	taken, err := m.repo.Accounts().ExistsByEmail(ctx, email, excludingID)
	if err != nil {
		return false, richError(err, "failed to check email availability")
	}
	return !taken, nil
}

// supersedeCode replaces the account's code for purpose and publishes name.
// guard, when set, runs against the stored account before any write.
func (m *AccountManager) supersedeCode(ctx context.Context, account *Account, purpose Purpose, name EventName, guard func(current *Account) error) (*VerificationCode, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var (
		code    *VerificationCode
		current *Account
	)

	err := m.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		if current, err = tx.Accounts().FindByID(ctx, account.ID); err != nil {
			return err
		}

		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}

		code, err = m.issueCode(ctx, tx, current, purpose, nil)
		return err
	})

	if err != nil {
		return nil, richError(err, "failed to issue verification code")
	}

	account.refresh(current)
	account.attachCode(code)

	return code, m.publish(ctx, Event{
		Name:    name,
		Account: account,
		Code:    code,
	})
}

// issueCode deletes any code the account holds for purpose and stores a new
// one. Must run inside a transaction.
func (m *AccountManager) issueCode(ctx context.Context, tx Repository, account *Account, purpose Purpose, payload any) (*VerificationCode, error) {
	if err := tx.Codes().DeleteByPurpose(ctx, account.ID, purpose); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete previous verification code")
	}

	code, err := NewVerificationCode(account, purpose)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		if err := code.SetPayload(payload); err != nil {
			return nil, err
		}
	}

	created, err := tx.Codes().Create(ctx, code)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create verification code")
	}

	return created, nil
}

func (m *AccountManager) publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if err := m.sink.Publish(ctx, event); err != nil {
		return richError(err, "failed to publish account event")
	}
	return nil
}

func (m *AccountManager) observe(ctx context.Context, purpose Purpose, outcome VerificationOutcome) {
	for _, o := range m.observers {
		o.ObserveVerification(ctx, purpose, outcome)
	}
}

func (m *AccountManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func checkContext(ctx context.Context, msg string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, msg)
	default:
		return nil
	}
}

func requirePersisted(account *Account) error {
	if account == nil || account.ID == uuid.Nil {
		return ErrInvalidState.Clone().WithMetadata(map[string]any{
			"reason": "account is not persisted",
		})
	}
	return nil
}
