package notification

import "time"

// Config configures delivery.
type Config struct {
	PollInterval time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"15s"`
	LockTimeout  time.Duration `env:"NOTIFY_LOCK_TIMEOUT" envDefault:"2m"`
	BatchSize    int           `env:"NOTIFY_BATCH_SIZE" envDefault:"20"`
	MaxAttempts  int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase  time.Duration `env:"NOTIFY_BACKOFF_BASE" envDefault:"1m"`
	BackoffMax   time.Duration `env:"NOTIFY_BACKOFF_MAX" envDefault:"1h"`
	SendTimeout  time.Duration `env:"NOTIFY_SEND_TIMEOUT" envDefault:"10s"`
	AppURL       string        `env:"APP_URL" envDefault:"http://localhost:3000"`
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		LockTimeout:  2 * time.Minute,
		BatchSize:    20,
		MaxAttempts:  5,
		BackoffBase:  time.Minute,
		BackoffMax:   time.Hour,
		SendTimeout:  10 * time.Second,
		AppURL:       "http://localhost:3000",
	}
}
