package email

// Config holds email delivery configuration.
// With Driver "dev" messages are written to DevDir instead of being sent and
// the Postmark tokens are not needed.
type Config struct {
	Driver               string `env:"EMAIL_DRIVER" envDefault:"dev"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:".emails"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost.test"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@localhost.test"`
}
