package mailer

import (
	"fmt"
	"html"
	"time"
)

// VerificationCode renders the account verification email.
func VerificationCode(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Verify your email",
		HTML: fmt.Sprintf(`<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>`,
			html.EscapeString(code), int(ttl.Minutes())),
	}
}

// ContactNotification renders the owner's copy of a contact-form message.
func ContactNotification(owner, name, email, message string) Message {
	return Message{
		To:      owner,
		Subject: fmt.Sprintf("New contact message from %s", name),
		HTML: fmt.Sprintf(`<p><strong>From:</strong> %s &lt;%s&gt;</p><p>%s</p>`,
			html.EscapeString(name), html.EscapeString(email), html.EscapeString(message)),
	}
}
