package accounts

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle status of an account
type AccountStatus string

const (
	// StatusNeedsActivation is the creation state of self registered accounts
	StatusNeedsActivation AccountStatus = "needs_activation"
	// StatusActive accounts confirmed their e-mail and may authenticate
	StatusActive AccountStatus = "active"
	// StatusLocked is set by operators, never by AccountManager
	StatusLocked AccountStatus = "locked"
)

// Valid reports whether the status is one of the known values.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusNeedsActivation, StatusActive, StatusLocked:
		return true
	}
	return false
}

// Account is the persisted user identity record
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID           `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string              `bun:"name,notnull" json:"name,omitempty"`
	Email         string              `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string              `bun:"password_hash,notnull" json:"-"`
	Salt          string              `bun:"salt,notnull" json:"-"`
	Status        AccountStatus       `bun:"status,notnull" json:"status,omitempty"`
	Roles         []*AccountRole      `bun:"rel:has-many,join:id=account_id" json:"roles,omitempty"`
	Codes         []*VerificationCode `bun:"rel:has-many,join:id=account_id" json:"-"`
	CreatedAt     *time.Time          `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time          `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Validate checks the user facing attributes of the account.
func (a Account) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&a.Email, validation.Required, validation.Length(3, 100), is.Email),
	)
}

// IsActive reports whether the account may authenticate
func (a *Account) IsActive() bool {
	return a != nil && a.Status == StatusActive
}

// NeedsActivation reports whether the account still has to confirm its e-mail
func (a *Account) NeedsActivation() bool {
	return a != nil && a.Status == StatusNeedsActivation
}

// IsLocked reports whether an operator locked the account
func (a *Account) IsLocked() bool {
	return a != nil && a.Status == StatusLocked
}

// CodeFor returns the loaded verification code for purpose, if any.
// Codes is a read view; AccountManager always reads codes from the Repository.
func (a *Account) CodeFor(purpose Purpose) *VerificationCode {
	if a == nil {
		return nil
	}
	for _, c := range a.Codes {
		if c != nil && c.Purpose == purpose {
			return c
		}
	}
	return nil
}

// refresh replaces a with the stored record so callers holding the pointer
// see committed state.
func (a *Account) refresh(stored *Account) {
	if stored != nil {
		*a = *stored
	}
}

func (a *Account) attachCode(code *VerificationCode) {
	a.detachCode(code.Purpose)
	a.Codes = append(a.Codes, code)
}

func (a *Account) detachCode(purpose Purpose) {
	kept := a.Codes[:0]
	for _, c := range a.Codes {
		if c != nil && c.Purpose != purpose {
			kept = append(kept, c)
		}
	}
	a.Codes = kept
}

// RoleNames returns the flat role labels attached to the account
func (a *Account) RoleNames() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		if r != nil {
			names = append(names, r.Name)
		}
	}
	return names
}

// HasRole reports whether the account carries the role label
func (a *Account) HasRole(name string) bool {
	for _, r := range a.RoleNames() {
		if r == name {
			return true
		}
	}
	return false
}

// AddRole attaches a role label; duplicates are ignored
func (a *Account) AddRole(name string) *Account {
	if name == "" || a.HasRole(name) {
		return a
	}
	a.Roles = append(a.Roles, &AccountRole{AccountID: a.ID, Name: name})
	return a
}

// RemoveRole detaches a role label
func (a *Account) RemoveRole(name string) *Account {
	kept := a.Roles[:0]
	for _, r := range a.Roles {
		if r != nil && r.Name != name {
			kept = append(kept, r)
		}
	}
	a.Roles = kept
	return a
}

// AccountRole is a flat role label owned by an account
type AccountRole struct {
	bun.BaseModel `bun:"table:account_roles,alias:rol"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"-"`
	AccountID     uuid.UUID `bun:"account_id,notnull,type:uuid" json:"-"`
	Name          string    `bun:"name,notnull" json:"name"`
}

// Clone returns a deep copy of the account, including roles and codes.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Roles = make([]*AccountRole, 0, len(a.Roles))
	for _, r := range a.Roles {
		if r != nil {
			role := *r
			out.Roles = append(out.Roles, &role)
		}
	}
	out.Codes = make([]*VerificationCode, 0, len(a.Codes))
	for _, c := range a.Codes {
		if c != nil {
			out.Codes = append(out.Codes, c.Clone())
		}
	}
	return &out
}
