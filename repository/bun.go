package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Store implements accounts.Repository using Bun.
type Store struct {
	root     *bun.DB
	db       bun.IDB
	inTx     bool
	accounts repository.Repository[*accounts.Account]
	codes    repository.Repository[*accounts.VerificationCode]
}

var _ accounts.Repository = (*Store)(nil)

// NewStore creates a new bun backed repository.
func NewStore(db *bun.DB) *Store {
	return &Store{
		root: db,
		db:   db,
		accounts: repository.NewRepository[*accounts.Account](db, repository.ModelHandlers[*accounts.Account]{
			NewRecord: func() *accounts.Account { return &accounts.Account{} },
			GetID: func(a *accounts.Account) uuid.UUID {
				if a == nil {
					return uuid.Nil
				}
				return a.ID
			},
			SetID: func(a *accounts.Account, id uuid.UUID) {
				if a != nil {
					a.ID = id
				}
			},
		}),
		codes: repository.NewRepository[*accounts.VerificationCode](db, repository.ModelHandlers[*accounts.VerificationCode]{
			NewRecord: func() *accounts.VerificationCode { return &accounts.VerificationCode{} },
			GetID: func(c *accounts.VerificationCode) uuid.UUID {
				if c == nil {
					return uuid.Nil
				}
				return c.ID
			},
			SetID: func(c *accounts.VerificationCode, id uuid.UUID) {
				if c != nil {
					c.ID = id
				}
			},
		}),
	}
}

// DB returns the underlying database handle
func (s *Store) DB() *bun.DB {
	return s.root
}

// RunInTx implements accounts.TransactionManager.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx accounts.Repository) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if s.inTx {
		return fn(ctx, s)
	}

	return s.root.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.withTx(tx))
	})
}

// Accounts implements accounts.Repository.
func (s *Store) Accounts() accounts.Accounts {
	return bunAccounts{s}
}

// Codes implements accounts.Repository.
func (s *Store) Codes() accounts.VerificationCodes {
	return bunCodes{s}
}

// DeleteAccount hard deletes an account. Roles and verification codes are
// removed by the ON DELETE CASCADE foreign keys.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*accounts.Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, accounts.ErrAccountNotFound, id)
}

func (s *Store) withTx(tx bun.Tx) *Store {
	clone := *s
	clone.db = tx
	clone.inTx = true
	return &clone
}

type bunAccounts struct {
	s *Store
}

func (r bunAccounts) FindByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	return r.findBy(ctx, "id", id)
}

func (r bunAccounts) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return r.findBy(ctx, "email", email)
}

func (r bunAccounts) findBy(ctx context.Context, column string, value any) (*accounts.Account, error) {
	record := &accounts.Account{}
	err := r.s.db.NewSelect().
		Model(record).
		Relation("Roles").
		Relation("Codes").
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{
				column: value,
			})
		}
		return nil, err
	}
	return record, nil
}

func (r bunAccounts) ExistsByEmail(ctx context.Context, email string, excludingID uuid.UUID) (bool, error) {
	q := r.s.db.NewSelect().
		Model((*accounts.Account)(nil)).
		Where("email = ?", email)

	if excludingID != uuid.Nil {
		q = q.Where("id != ?", excludingID)
	}

	return q.Exists(ctx)
}

func (r bunAccounts) Create(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	account.CreatedAt = &now
	account.UpdatedAt = &now

	created, err := r.s.accounts.CreateTx(ctx, r.s.db, account)
	if err != nil {
		return nil, emailConflict(err, account.Email)
	}

	if len(account.Roles) > 0 {
		if err := r.SetRoles(ctx, account.ID, account.RoleNames()); err != nil {
			return nil, err
		}
	}

	return created, nil
}

func (r bunAccounts) Update(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	now := time.Now().UTC()
	account.UpdatedAt = &now

	res, err := r.s.db.NewUpdate().
		Model(account).
		Column("name", "email", "password_hash", "salt", "status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, emailConflict(err, account.Email)
	}

	if err := expectRows(res, accounts.ErrAccountNotFound, account.ID); err != nil {
		return nil, err
	}

	return account, nil
}

func (r bunAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, status accounts.AccountStatus) (*accounts.Account, error) {
	q := r.s.db.NewUpdate().
		Model((*accounts.Account)(nil)).
		Set("status = ?", status)
	return r.updateColumns(ctx, q, id, "")
}

func (r bunAccounts) UpdateCredentials(ctx context.Context, id uuid.UUID, salt, passwordHash string) (*accounts.Account, error) {
	q := r.s.db.NewUpdate().
		Model((*accounts.Account)(nil)).
		Set("salt = ?", salt).
		Set("password_hash = ?", passwordHash)
	return r.updateColumns(ctx, q, id, "")
}

func (r bunAccounts) UpdateEmail(ctx context.Context, id uuid.UUID, email string) (*accounts.Account, error) {
	q := r.s.db.NewUpdate().
		Model((*accounts.Account)(nil)).
		Set("email = ?", email)
	return r.updateColumns(ctx, q, id, email)
}

// updateColumns stamps updated_at, runs q against id and reloads the row.
func (r bunAccounts) updateColumns(ctx context.Context, q *bun.UpdateQuery, id uuid.UUID, email string) (*accounts.Account, error) {
	res, err := q.
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, emailConflict(err, email)
	}

	if err := expectRows(res, accounts.ErrAccountNotFound, id); err != nil {
		return nil, err
	}

	return r.FindByID(ctx, id)
}

func (r bunAccounts) SetRoles(ctx context.Context, accountID uuid.UUID, roles []string) error {
	_, err := r.s.db.NewDelete().
		Model((*accounts.AccountRole)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return err
	}

	records := make([]*accounts.AccountRole, 0, len(roles))
	seen := map[string]bool{}
	for _, name := range roles {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		records = append(records, &accounts.AccountRole{
			ID:        uuid.New(),
			AccountID: accountID,
			Name:      name,
		})
	}

	if len(records) == 0 {
		return nil
	}

	_, err = r.s.db.NewInsert().Model(&records).Exec(ctx)
	return err
}

type bunCodes struct {
	s *Store
}

func (r bunCodes) FindByID(ctx context.Context, id uuid.UUID) (*accounts.VerificationCode, error) {
	record := &accounts.VerificationCode{}
	err := r.s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, accounts.ErrCodeNotFound.Clone().WithMetadata(map[string]any{
				"id": id.String(),
			})
		}
		return nil, err
	}
	return record, nil
}

func (r bunCodes) FindByPurpose(ctx context.Context, accountID uuid.UUID, purpose accounts.Purpose) (*accounts.VerificationCode, error) {
	record := &accounts.VerificationCode{}
	err := r.s.db.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.purpose = ?", purpose).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, accounts.ErrCodeNotFound.Clone().WithMetadata(map[string]any{
				"account_id": accountID.String(),
				"purpose":    string(purpose),
			})
		}
		return nil, err
	}
	return record, nil
}

func (r bunCodes) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*accounts.VerificationCode, error) {
	var records []*accounts.VerificationCode
	err := r.s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (r bunCodes) Create(ctx context.Context, code *accounts.VerificationCode) (*accounts.VerificationCode, error) {
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	now := time.Now().UTC()
	code.CreatedAt = &now
	return r.s.codes.CreateTx(ctx, r.s.db, code)
}

func (r bunCodes) Delete(ctx context.Context, code *accounts.VerificationCode) error {
	res, err := r.s.db.NewDelete().
		Model((*accounts.VerificationCode)(nil)).
		Where("id = ?", code.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, accounts.ErrCodeNotFound, code.ID)
}

func (r bunCodes) DeleteByPurpose(ctx context.Context, accountID uuid.UUID, purpose accounts.Purpose) error {
	_, err := r.s.db.NewDelete().
		Model((*accounts.VerificationCode)(nil)).
		Where("account_id = ?", accountID).
		Where("purpose = ?", purpose).
		Exec(ctx)
	return err
}

// RegisterAttempt increments in the database so concurrent misses never
// overwrite each other; the row stays locked until the transaction ends.
func (r bunCodes) RegisterAttempt(ctx context.Context, id uuid.UUID) (*accounts.VerificationCode, error) {
	res, err := r.s.db.NewUpdate().
		Model((*accounts.VerificationCode)(nil)).
		Set("attempts = attempts + 1").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if err := expectRows(res, accounts.ErrCodeNotFound, id); err != nil {
		return nil, err
	}

	return r.FindByID(ctx, id)
}

// pgUniqueViolation is the SQLSTATE postgres reports for unique_violation.
const pgUniqueViolation = "23505"

// emailConflict maps a unique violation on accounts.email to
// ErrEmailTaken. Other errors are returned unchanged.
func emailConflict(err error, email string) error {
	if email == "" || !isUniqueViolation(err, "email") {
		return err
	}
	return accounts.ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": email})
}

func isUniqueViolation(err error, column string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation &&
			(pgErr.ColumnName == column || strings.Contains(pgErr.ConstraintName, column))
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "."+column)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func expectRows(res sql.Result, notFound *goerrors.Error, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound.Clone().WithMetadata(map[string]any{
			"id": id.String(),
		})
	}
	return nil
}
