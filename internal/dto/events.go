package dto

// Event keys consumed by the mail service.
const (
	EventVerifyEmail   = "user.verify_email"
	EventResetPassword = "user.reset_password"
)

// MailTokenEvent carries a freshly issued one-time token to the mail
// service. The raw token only ever leaves the process through this event.
type MailTokenEvent struct {
	EventID   string `json:"event_id"`
	UserID    uint   `json:"user_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}
