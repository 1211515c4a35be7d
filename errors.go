package accounts

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidState           = "ACCOUNT_INVALID_STATE"
	TextCodeInvalidAccount         = "ACCOUNT_INVALID"
	TextCodeEmailTaken             = "ACCOUNT_EMAIL_TAKEN"
	TextCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	TextCodeCodeNotFound           = "VERIFICATION_CODE_NOT_FOUND"
	TextCodeMalformedPayload       = "VERIFICATION_PAYLOAD_MALFORMED"
	TextCodeInvalidCredentials     = "ACCOUNT_INVALID_CREDENTIALS"
	TextCodeAccountLocked          = "ACCOUNT_LOCKED"
	TextCodeAccountNeedsActivation = "ACCOUNT_NEEDS_ACTIVATION"
	TextCodeUnknownEncoder         = "PASSWORD_ENCODER_UNKNOWN"
	TextCodeEmptyPassword          = "PASSWORD_EMPTY"
)

// ErrInvalidState is returned when a transition is requested on an account
// that is not in a state that allows it (e.g. registering a persisted account).
var ErrInvalidState = goerrors.New("account is in an invalid state for this operation", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeConflict)

// ErrInvalidAccount is returned when account attributes fail validation.
var ErrInvalidAccount = goerrors.New("invalid account attributes", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidAccount).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned when another account already uses the e-mail.
var ErrEmailTaken = goerrors.New("email already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrAccountNotFound is returned by repositories on account misses.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrCodeNotFound is returned by repositories on verification code misses.
var ErrCodeNotFound = goerrors.New("verification code not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMalformedPayload is returned when a verification code payload cannot be
// decoded or lacks a required field.
var ErrMalformedPayload = goerrors.New("verification code payload is malformed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMalformedPayload).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned for unknown e-mails and wrong passwords alike.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned when a locked account tries to authenticate.
var ErrAccountLocked = goerrors.New("account is locked", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeForbidden)

// ErrAccountNeedsActivation is returned when an account has not confirmed its e-mail yet.
var ErrAccountNeedsActivation = goerrors.New("account needs activation", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountNeedsActivation).
	WithCode(goerrors.CodeForbidden)

// ErrUnknownEncoder is returned when a password encoder name is not registered.
var ErrUnknownEncoder = goerrors.New("unknown password encoder", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownEncoder).
	WithCode(goerrors.CodeBadRequest)

// ErrEmptyPassword is returned when hashing an empty password
var ErrEmptyPassword = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// IsNotFound reports whether err is an account or verification code miss.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.IsNotFound(err)
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

func richError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
