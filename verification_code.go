package accounts

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxAttempts is the attempt budget of a verification code. The code is
// deleted once Attempts reaches it.
const MaxAttempts = 10

// codeBytes is the entropy of a generated code (256 bits).
const codeBytes = 32

// Purpose is the closed set of reasons a verification code exists
type Purpose string

const (
	PurposeActivation       Purpose = "activation_code"
	PurposeRememberPassword Purpose = "remember_password"
	PurposeChangeEmail      Purpose = "change_email"
)

// Purposes lists every known purpose
func Purposes() []Purpose {
	return []Purpose{PurposeActivation, PurposeRememberPassword, PurposeChangeEmail}
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeActivation, PurposeRememberPassword, PurposeChangeEmail:
		return true
	}
	return false
}

// VerificationCode is a single purpose, attempt limited proof token bound to
// one account.
type VerificationCode struct {
	bun.BaseModel `bun:"table:verification_codes,alias:vc"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Purpose       Purpose    `bun:"purpose,notnull" json:"purpose,omitempty"`
	Code          string     `bun:"code,notnull,unique" json:"-"`
	Data          []byte     `bun:"data" json:"-"`
	Attempts      int        `bun:"attempts,notnull" json:"attempts"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// ChangeEmailPayload is stored on change_email codes
type ChangeEmailPayload struct {
	NewEmail string `json:"newEmail"`
}

// NewVerificationCode builds a code for account with a freshly generated value.
func NewVerificationCode(account *Account, purpose Purpose) (*VerificationCode, error) {
	if account == nil || account.ID == uuid.Nil {
		return nil, ErrInvalidState.Clone().WithMetadata(map[string]any{
			"reason": "verification code requires a persisted account",
		})
	}

	code := &VerificationCode{
		ID:        uuid.New(),
		AccountID: account.ID,
		Purpose:   purpose,
	}

	if err := code.Generate(); err != nil {
		return nil, err
	}

	return code, nil
}

// Generate assigns a fresh random code value.
func (c *VerificationCode) Generate() error {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
	}
	c.Code = hex.EncodeToString(buf)
	return nil
}

// IsExpired reports whether the attempt budget is exhausted
func (c *VerificationCode) IsExpired() bool {
	return c.Attempts >= MaxAttempts
}

// IncreaseAttempts increments the attempt counter.
func (c *VerificationCode) IncreaseAttempts() {
	c.Attempts++
}

// Matches compares purpose and value. The value comparison runs in
// constant time.
func (c *VerificationCode) Matches(purpose Purpose, value string) bool {
	if c == nil || c.Code == "" {
		return false
	}
	purposeOK := c.Purpose == purpose
	valueOK := subtle.ConstantTimeCompare([]byte(c.Code), []byte(value)) == 1
	return purposeOK && valueOK
}

// SetPayload stores v as the opaque payload of the code.
func (c *VerificationCode) SetPayload(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode verification code payload")
	}
	c.Data = data
	return nil
}

// DecodePayload decodes the opaque payload into v.
func (c *VerificationCode) DecodePayload(v any) error {
	if len(c.Data) == 0 {
		return ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"code_id": c.ID.String(),
			"reason":  "empty payload",
		})
	}
	if err := json.Unmarshal(c.Data, v); err != nil {
		clone := ErrMalformedPayload.Clone()
		clone.Source = err
		return clone.WithMetadata(map[string]any{
			"code_id": c.ID.String(),
			"cause":   err.Error(),
		})
	}
	return nil
}

// Clone returns a deep copy of the code.
func (c *VerificationCode) Clone() *VerificationCode {
	if c == nil {
		return nil
	}
	out := *c
	if c.Data != nil {
		out.Data = append([]byte(nil), c.Data...)
	}
	return &out
}
