package orchestrator

import (
	"fmt"
	"time"

	"solana-swap-engine/internal/tracker"
)

// Config holds the engine limits. It is passed explicitly at construction.
type Config struct {
	MaxQuoteAge          time.Duration
	PollInterval         time.Duration
	ConfirmationDeadline time.Duration
	SubmitMaxAttempts    int
	SubmitBackoffBase    time.Duration
	SubmitBackoffMax     time.Duration
	// MaxCycleRetries bounds full-cycle retries; total attempts are MaxCycleRetries+1.
	MaxCycleRetries int
}

// DefaultConfig returns the default engine limits.
func DefaultConfig() Config {
	return Config{
		MaxQuoteAge:          5 * time.Second,
		PollInterval:         500 * time.Millisecond,
		ConfirmationDeadline: 60 * time.Second,
		SubmitMaxAttempts:    4,
		SubmitBackoffBase:    250 * time.Millisecond,
		SubmitBackoffMax:     4 * time.Second,
		MaxCycleRetries:      2,
	}
}

// Validate checks the limits for consistency.
func (c Config) Validate() error {
	switch {
	case c.MaxQuoteAge <= 0:
		return fmt.Errorf("max quote age must be positive")
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive")
	case c.ConfirmationDeadline < c.PollInterval:
		return fmt.Errorf("confirmation deadline %s is shorter than poll interval %s", c.ConfirmationDeadline, c.PollInterval)
	case c.SubmitMaxAttempts < 1:
		return fmt.Errorf("submit max attempts must be at least 1")
	case c.SubmitBackoffBase <= 0 || c.SubmitBackoffMax < c.SubmitBackoffBase:
		return fmt.Errorf("submit backoff must satisfy 0 < base <= max")
	case c.SubmitBackoffMax < tracker.MinBackoffMax(c.SubmitMaxAttempts, c.SubmitBackoffBase):
		return fmt.Errorf("submit backoff max %s is below %s, the last delay of %d attempts",
			c.SubmitBackoffMax, tracker.MinBackoffMax(c.SubmitMaxAttempts, c.SubmitBackoffBase), c.SubmitMaxAttempts)
	case c.MaxCycleRetries < 0:
		return fmt.Errorf("max cycle retries must not be negative")
	}
	return nil
}

// TrackerConfig returns the submission limits.
func (c Config) TrackerConfig() tracker.Config {
	return tracker.Config{
		PollInterval:         c.PollInterval,
		ConfirmationDeadline: c.ConfirmationDeadline,
		SubmitMaxAttempts:    c.SubmitMaxAttempts,
		SubmitBackoffBase:    c.SubmitBackoffBase,
		SubmitBackoffMax:     c.SubmitBackoffMax,
	}
}
