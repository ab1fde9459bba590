// Package notification delivers cheeto's four lifecycle notifications
// (account-ready, key-updated, new-sponsor, sync-error — §4.5) by email.
// Reduced from the teacher's in-app/websocket/webhook fan-out to a direct,
// config-driven SMTP sender: cheeto has no GUI to push in-app notifications
// to and no settings API to source a webhook URL from.
package notification

// SMTPConfig holds the configuration needed to send emails via SMTP,
// resolved once from internal/config.Config at startup.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool // true = implicit TLS; false = plaintext/STARTTLS
}
