package notifier

import (
	"github.com/goliatone/go-accounts"
)

// Template is the subject and body source of one mail, both rendered with
// pongo2 (django syntax).
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplates returns the built in mails keyed by the event that
// triggers them.
func DefaultTemplates() map[accounts.EventName]Template {
	activation := Template{
		Subject: "Activate your account",
		Body: `<p>Hello {{ account.Name }},</p>
<p>Confirm your e-mail address to activate your account:</p>
<p><a href="{{ link }}">{{ link }}</a></p>`,
	}

	return map[accounts.EventName]Template{
		accounts.EventRegistration:     activation,
		accounts.EventActivationResent: activation,
		accounts.EventRememberPassword: {
			Subject: "Password recovery",
			Body: `<p>Hello {{ account.Name }},</p>
<p>Someone asked to recover the password of this account. Follow the link to choose a new one:</p>
<p><a href="{{ link }}">{{ link }}</a></p>
<p>If it was not you, ignore this message.</p>`,
		},
		accounts.EventPasswordChanged: {
			Subject: "Your new password",
			Body: `<p>Hello {{ account.Name }},</p>
<p>Your password was changed. Your new password is: <strong>{{ new_password }}</strong></p>`,
		},
		accounts.EventChangeEmail: {
			Subject: "Confirm your new e-mail",
			Body: `<p>Hello {{ account.Name }},</p>
<p>Confirm {{ new_email }} as the new e-mail of your account:</p>
<p><a href="{{ link }}">{{ link }}</a></p>`,
		},
	}
}

// linkPaths maps events to the path a confirmation link points at
var linkPaths = map[accounts.EventName]string{
	accounts.EventRegistration:     "/account/activate",
	accounts.EventActivationResent: "/account/activate",
	accounts.EventRememberPassword: "/account/password/reset",
	accounts.EventChangeEmail:      "/account/email/confirm",
}
