// internal/workers/lender/poll-lender-application/config.go
package polllenderapplication

import "time"

type Config struct {
	// Timeout bounds one poll, lender call included.
	Timeout time.Duration
	// PollInterval is how far next_poll_at moves after a non-terminal check.
	PollInterval time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      45 * time.Second,
		PollInterval: 15 * time.Minute,
	}
}
