// Package accounts manages the lifecycle of user accounts: registration,
// e-mail verification, password recovery and in-place e-mail or password
// changes.
//
// Account lifecycle:
//   - Accounts carry an AccountStatus persisted via Bun. Self registered
//     accounts start as needs_activation; locked is only ever set by an
//     operator.
//   - AccountManager owns every transition. Each one runs inside
//     Repository.RunInTx and publishes exactly one Event after commit.
//
// Verification codes:
//   - A VerificationCode is a single purpose proof of e-mail possession bound
//     to one account. An account holds at most one code per Purpose and a new
//     request always supersedes the previous code.
//   - ConfirmCode treats a wrong purpose the same as a wrong value. Every miss
//     spends one attempt and the code is deleted once MaxAttempts is reached.
//
// Events:
//   - EventSink receives events synchronously. Dispatcher fans them out to
//     subscribers (mailers, metrics, message buses). By default a subscriber
//     error is returned to the caller of the transition even though the
//     transition already committed; use WithFailurePolicy to log and continue.
package accounts
