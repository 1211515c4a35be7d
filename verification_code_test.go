package accounts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerificationCode(t *testing.T) {
	account := &Account{ID: uuid.New()}

	code, err := NewVerificationCode(account, PurposeActivation)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, code.ID)
	assert.Equal(t, account.ID, code.AccountID)
	assert.Equal(t, PurposeActivation, code.Purpose)
	assert.Len(t, code.Code, codeBytes*2)
	assert.Equal(t, 0, code.Attempts)

	other, err := NewVerificationCode(account, PurposeActivation)
	require.NoError(t, err)
	assert.NotEqual(t, code.Code, other.Code)

	_, err = NewVerificationCode(&Account{}, PurposeActivation)
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeInvalidState))
}

func TestVerificationCodeAttempts(t *testing.T) {
	code := &VerificationCode{}

	for i := 0; i < MaxAttempts-1; i++ {
		code.IncreaseAttempts()
		assert.False(t, code.IsExpired(), "attempt %d", i+1)
	}

	code.IncreaseAttempts()
	assert.True(t, code.IsExpired())
	assert.Equal(t, MaxAttempts, code.Attempts)
}

func TestVerificationCodeMatches(t *testing.T) {
	code := &VerificationCode{Purpose: PurposeRememberPassword, Code: "abc123"}

	assert.True(t, code.Matches(PurposeRememberPassword, "abc123"))
	assert.False(t, code.Matches(PurposeActivation, "abc123"))
	assert.False(t, code.Matches(PurposeRememberPassword, "abc124"))
	assert.False(t, code.Matches(PurposeRememberPassword, ""))

	var missing *VerificationCode
	assert.False(t, missing.Matches(PurposeRememberPassword, "abc123"))
}

func TestVerificationCodePayload(t *testing.T) {
	code := &VerificationCode{ID: uuid.New(), Purpose: PurposeChangeEmail}

	require.NoError(t, code.SetPayload(ChangeEmailPayload{NewEmail: "new@x.com"}))
	assert.JSONEq(t, `{"newEmail":"new@x.com"}`, string(code.Data))

	var payload ChangeEmailPayload
	require.NoError(t, code.DecodePayload(&payload))
	assert.Equal(t, "new@x.com", payload.NewEmail)

	t.Run("empty", func(t *testing.T) {
		err := (&VerificationCode{}).DecodePayload(&payload)
		assert.True(t, HasTextCode(err, TextCodeMalformedPayload))
	})

	t.Run("invalid json", func(t *testing.T) {
		err := (&VerificationCode{Data: []byte("{")}).DecodePayload(&payload)
		assert.True(t, HasTextCode(err, TextCodeMalformedPayload))
	})
}

func TestPurposes(t *testing.T) {
	assert.ElementsMatch(t, []Purpose{PurposeActivation, PurposeRememberPassword, PurposeChangeEmail}, Purposes())
	assert.True(t, PurposeChangeEmail.Valid())
	assert.False(t, Purpose("invite").Valid())
}
