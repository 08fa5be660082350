// Package logger provides a configured zerolog logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a new zerolog.Logger configured for the application.
func New(serviceName string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// ForBot returns a child logger tagged with the owner and bot ids. Bot
// workers and their stores log through it so that records are attributable
// to a single hosted bot.
func ForBot(base zerolog.Logger, ownerID, botID string) zerolog.Logger {
	return base.With().Str("owner", ownerID).Str("bot", botID).Logger()
}
