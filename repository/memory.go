package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ErrUniqueViolation mirrors the unique indexes of the SQL schema.
var ErrUniqueViolation = goerrors.New("unique constraint violated", goerrors.CategoryConflict).
	WithTextCode("UNIQUE_VIOLATION").
	WithCode(goerrors.CodeConflict)

// Memory is an in-process accounts.Repository. RunInTx holds an exclusive
// lock for the whole callback and restores a snapshot when it fails, so
// transactions are serialized and atomic.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

var _ accounts.Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// RunInTx implements accounts.TransactionManager.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx accounts.Repository) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	tx := &memTx{state: m.state}

	if err := fn(ctx, tx); err != nil {
		m.state = snapshot
		return err
	}

	return nil
}

// Accounts implements accounts.Repository.
func (m *Memory) Accounts() accounts.Accounts {
	return lockedAccounts{m}
}

// Codes implements accounts.Repository.
func (m *Memory) Codes() accounts.VerificationCodes {
	return lockedCodes{m}
}

// DeleteAccount removes an account together with its roles and codes.
func (m *Memory) DeleteAccount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteAccount(id)
}

func (m *Memory) with(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

type memState struct {
	accounts map[uuid.UUID]*accounts.Account
	roles    map[uuid.UUID][]string
	codes    map[uuid.UUID]*accounts.VerificationCode
}

func newMemState() *memState {
	return &memState{
		accounts: map[uuid.UUID]*accounts.Account{},
		roles:    map[uuid.UUID][]string{},
		codes:    map[uuid.UUID]*accounts.VerificationCode{},
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for id, a := range s.accounts {
		out.accounts[id] = a.Clone()
	}
	for id, r := range s.roles {
		out.roles[id] = append([]string(nil), r...)
	}
	for id, c := range s.codes {
		out.codes[id] = c.Clone()
	}
	return out
}

func (s *memState) findAccount(match func(*accounts.Account) bool, meta map[string]any) (*accounts.Account, error) {
	for _, a := range s.accounts {
		if match(a) {
			return s.hydrate(a), nil
		}
	}
	return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(meta)
}

// hydrate returns a detached copy with roles and codes attached.
func (s *memState) hydrate(a *accounts.Account) *accounts.Account {
	out := a.Clone()
	out.Roles = nil
	for _, name := range s.roles[a.ID] {
		out.Roles = append(out.Roles, &accounts.AccountRole{AccountID: a.ID, Name: name})
	}
	out.Codes = s.codesOf(a.ID)
	return out
}

func (s *memState) codesOf(accountID uuid.UUID) []*accounts.VerificationCode {
	var out []*accounts.VerificationCode
	for _, c := range s.codes {
		if c.AccountID == accountID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == nil || out[j].CreatedAt == nil {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(*out[j].CreatedAt)
	})
	return out
}

func (s *memState) emailTaken(email string, excludingID uuid.UUID) bool {
	for id, a := range s.accounts {
		if a.Email == email && id != excludingID {
			return true
		}
	}
	return false
}

func (s *memState) createAccount(account *accounts.Account) (*accounts.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if _, ok := s.accounts[account.ID]; ok {
		return nil, ErrUniqueViolation.Clone().WithMetadata(map[string]any{"id": account.ID.String()})
	}
	if s.emailTaken(account.Email, uuid.Nil) {
		return nil, accounts.ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": account.Email})
	}

	now := time.Now().UTC()
	account.CreatedAt = &now
	account.UpdatedAt = &now

	stored := account.Clone()
	stored.Roles, stored.Codes = nil, nil
	s.accounts[account.ID] = stored

	if len(account.Roles) > 0 {
		s.setRoles(account.ID, account.RoleNames())
	}

	return account, nil
}

func (s *memState) updateAccount(account *accounts.Account) (*accounts.Account, error) {
	if _, ok := s.accounts[account.ID]; !ok {
		return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": account.ID.String()})
	}
	if s.emailTaken(account.Email, account.ID) {
		return nil, accounts.ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": account.Email})
	}

	now := time.Now().UTC()
	account.UpdatedAt = &now

	stored := account.Clone()
	stored.Roles, stored.Codes = nil, nil
	s.accounts[account.ID] = stored

	return account, nil
}

// patchAccount applies fn to the stored record and returns a hydrated copy.
func (s *memState) patchAccount(id uuid.UUID, fn func(stored *accounts.Account) error) (*accounts.Account, error) {
	stored, ok := s.accounts[id]
	if !ok {
		return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	if err := fn(stored); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stored.UpdatedAt = &now
	return s.hydrate(stored), nil
}

func (s *memState) setRoles(accountID uuid.UUID, roles []string) {
	seen := map[string]bool{}
	var kept []string
	for _, name := range roles {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		kept = append(kept, name)
	}
	s.roles[accountID] = kept
}

func (s *memState) deleteAccount(id uuid.UUID) error {
	if _, ok := s.accounts[id]; !ok {
		return accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	delete(s.accounts, id)
	delete(s.roles, id)
	for cid, c := range s.codes {
		if c.AccountID == id {
			delete(s.codes, cid)
		}
	}
	return nil
}

func (s *memState) findCode(match func(*accounts.VerificationCode) bool, meta map[string]any) (*accounts.VerificationCode, error) {
	for _, c := range s.codes {
		if match(c) {
			return c.Clone(), nil
		}
	}
	return nil, accounts.ErrCodeNotFound.Clone().WithMetadata(meta)
}

func (s *memState) createCode(code *accounts.VerificationCode) (*accounts.VerificationCode, error) {
	if _, ok := s.accounts[code.AccountID]; !ok {
		return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": code.AccountID.String()})
	}
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	for _, c := range s.codes {
		if c.ID == code.ID || c.Code == code.Code || (c.AccountID == code.AccountID && c.Purpose == code.Purpose) {
			return nil, ErrUniqueViolation.Clone().WithMetadata(map[string]any{
				"account_id": code.AccountID.String(),
				"purpose":    string(code.Purpose),
			})
		}
	}

	now := time.Now().UTC()
	code.CreatedAt = &now
	s.codes[code.ID] = code.Clone()

	return code, nil
}

func (s *memState) deleteCode(id uuid.UUID) error {
	if _, ok := s.codes[id]; !ok {
		return accounts.ErrCodeNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	delete(s.codes, id)
	return nil
}

func (s *memState) deleteCodeByPurpose(accountID uuid.UUID, purpose accounts.Purpose) {
	for id, c := range s.codes {
		if c.AccountID == accountID && c.Purpose == purpose {
			delete(s.codes, id)
		}
	}
}

func (s *memState) registerAttempt(id uuid.UUID) (*accounts.VerificationCode, error) {
	c, ok := s.codes[id]
	if !ok {
		return nil, accounts.ErrCodeNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	c.IncreaseAttempts()
	return c.Clone(), nil
}

// stateAccounts and stateCodes run against a memState with no locking; the
// caller owns the lock.
type stateAccounts struct {
	s *memState
}

func (r stateAccounts) FindByID(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	return r.s.findAccount(func(a *accounts.Account) bool { return a.ID == id }, map[string]any{"id": id.String()})
}

func (r stateAccounts) FindByEmail(_ context.Context, email string) (*accounts.Account, error) {
	return r.s.findAccount(func(a *accounts.Account) bool { return a.Email == email }, map[string]any{"email": email})
}

func (r stateAccounts) ExistsByEmail(_ context.Context, email string, excludingID uuid.UUID) (bool, error) {
	return r.s.emailTaken(email, excludingID), nil
}

func (r stateAccounts) Create(_ context.Context, account *accounts.Account) (*accounts.Account, error) {
	return r.s.createAccount(account)
}

func (r stateAccounts) Update(_ context.Context, account *accounts.Account) (*accounts.Account, error) {
	return r.s.updateAccount(account)
}

func (r stateAccounts) UpdateStatus(_ context.Context, id uuid.UUID, status accounts.AccountStatus) (*accounts.Account, error) {
	return r.s.patchAccount(id, func(a *accounts.Account) error {
		a.Status = status
		return nil
	})
}

func (r stateAccounts) UpdateCredentials(_ context.Context, id uuid.UUID, salt, passwordHash string) (*accounts.Account, error) {
	return r.s.patchAccount(id, func(a *accounts.Account) error {
		a.Salt, a.PasswordHash = salt, passwordHash
		return nil
	})
}

func (r stateAccounts) UpdateEmail(_ context.Context, id uuid.UUID, email string) (*accounts.Account, error) {
	return r.s.patchAccount(id, func(a *accounts.Account) error {
		if r.s.emailTaken(email, id) {
			return accounts.ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": email})
		}
		a.Email = email
		return nil
	})
}

func (r stateAccounts) SetRoles(_ context.Context, accountID uuid.UUID, roles []string) error {
	if _, ok := r.s.accounts[accountID]; !ok {
		return accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": accountID.String()})
	}
	r.s.setRoles(accountID, roles)
	return nil
}

type stateCodes struct {
	s *memState
}

func (r stateCodes) FindByID(_ context.Context, id uuid.UUID) (*accounts.VerificationCode, error) {
	return r.s.findCode(func(c *accounts.VerificationCode) bool { return c.ID == id }, map[string]any{"id": id.String()})
}

func (r stateCodes) FindByPurpose(_ context.Context, accountID uuid.UUID, purpose accounts.Purpose) (*accounts.VerificationCode, error) {
	return r.s.findCode(func(c *accounts.VerificationCode) bool {
		return c.AccountID == accountID && c.Purpose == purpose
	}, map[string]any{"account_id": accountID.String(), "purpose": string(purpose)})
}

func (r stateCodes) FindByAccount(_ context.Context, accountID uuid.UUID) ([]*accounts.VerificationCode, error) {
	return r.s.codesOf(accountID), nil
}

func (r stateCodes) Create(_ context.Context, code *accounts.VerificationCode) (*accounts.VerificationCode, error) {
	return r.s.createCode(code)
}

func (r stateCodes) Delete(_ context.Context, code *accounts.VerificationCode) error {
	return r.s.deleteCode(code.ID)
}

func (r stateCodes) DeleteByPurpose(_ context.Context, accountID uuid.UUID, purpose accounts.Purpose) error {
	r.s.deleteCodeByPurpose(accountID, purpose)
	return nil
}

func (r stateCodes) RegisterAttempt(_ context.Context, id uuid.UUID) (*accounts.VerificationCode, error) {
	return r.s.registerAttempt(id)
}

// memTx is the repository handed to RunInTx callbacks.
type memTx struct {
	state *memState
}

func (t *memTx) RunInTx(ctx context.Context, fn func(ctx context.Context, tx accounts.Repository) error) error {
	return fn(ctx, t)
}

func (t *memTx) Accounts() accounts.Accounts {
	return stateAccounts{t.state}
}

func (t *memTx) Codes() accounts.VerificationCodes {
	return stateCodes{t.state}
}

// lockedAccounts and lockedCodes take the Memory lock per call.
type lockedAccounts struct {
	m *Memory
}

func (r lockedAccounts) FindByID(ctx context.Context, id uuid.UUID) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.FindByID(ctx, id)
		return err
	})
	return out, err
}

func (r lockedAccounts) FindByEmail(ctx context.Context, email string) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.FindByEmail(ctx, email)
		return err
	})
	return out, err
}

func (r lockedAccounts) ExistsByEmail(ctx context.Context, email string, excludingID uuid.UUID) (out bool, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.ExistsByEmail(ctx, email, excludingID)
		return err
	})
	return out, err
}

func (r lockedAccounts) Create(ctx context.Context, account *accounts.Account) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.Create(ctx, account)
		return err
	})
	return out, err
}

func (r lockedAccounts) Update(ctx context.Context, account *accounts.Account) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.Update(ctx, account)
		return err
	})
	return out, err
}

func (r lockedAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, status accounts.AccountStatus) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.UpdateStatus(ctx, id, status)
		return err
	})
	return out, err
}

func (r lockedAccounts) UpdateCredentials(ctx context.Context, id uuid.UUID, salt, passwordHash string) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.UpdateCredentials(ctx, id, salt, passwordHash)
		return err
	})
	return out, err
}

func (r lockedAccounts) UpdateEmail(ctx context.Context, id uuid.UUID, email string) (out *accounts.Account, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateAccounts{s}.UpdateEmail(ctx, id, email)
		return err
	})
	return out, err
}

func (r lockedAccounts) SetRoles(ctx context.Context, accountID uuid.UUID, roles []string) error {
	return r.m.with(func(s *memState) error {
		return stateAccounts{s}.SetRoles(ctx, accountID, roles)
	})
}

type lockedCodes struct {
	m *Memory
}

func (r lockedCodes) FindByID(ctx context.Context, id uuid.UUID) (out *accounts.VerificationCode, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateCodes{s}.FindByID(ctx, id)
		return err
	})
	return out, err
}

func (r lockedCodes) FindByPurpose(ctx context.Context, accountID uuid.UUID, purpose accounts.Purpose) (out *accounts.VerificationCode, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateCodes{s}.FindByPurpose(ctx, accountID, purpose)
		return err
	})
	return out, err
}

func (r lockedCodes) FindByAccount(ctx context.Context, accountID uuid.UUID) (out []*accounts.VerificationCode, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateCodes{s}.FindByAccount(ctx, accountID)
		return err
	})
	return out, err
}

func (r lockedCodes) Create(ctx context.Context, code *accounts.VerificationCode) (out *accounts.VerificationCode, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateCodes{s}.Create(ctx, code)
		return err
	})
	return out, err
}

func (r lockedCodes) Delete(ctx context.Context, code *accounts.VerificationCode) error {
	return r.m.with(func(s *memState) error {
		return stateCodes{s}.Delete(ctx, code)
	})
}

func (r lockedCodes) DeleteByPurpose(ctx context.Context, accountID uuid.UUID, purpose accounts.Purpose) error {
	return r.m.with(func(s *memState) error {
		return stateCodes{s}.DeleteByPurpose(ctx, accountID, purpose)
	})
}

func (r lockedCodes) RegisterAttempt(ctx context.Context, id uuid.UUID) (out *accounts.VerificationCode, err error) {
	err = r.m.with(func(s *memState) error {
		out, err = stateCodes{s}.RegisterAttempt(ctx, id)
		return err
	})
	return out, err
}
