// Package shutdown runs a process's teardown sequence in a fixed order,
// logging and continuing past individual step failures the way the
// teacher's Shutdown logs and deactivates the main power relay before
// exiting, generalized here to an ordered list of named steps (spec §5).
package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Step is one named teardown action. Close should be idempotent; it may
// be called during a partially-started process if startup failed partway
// through.
type Step struct {
	Name  string
	Close func() error
}

// Run executes steps in order, logging and continuing past any individual
// failure so a stuck component can't block the rest of the teardown.
func Run(steps []Step) {
	for _, s := range steps {
		log.Info().Str("component", s.Name).Msg("shutting down")
		if s.Close == nil {
			continue
		}
		if err := s.Close(); err != nil {
			log.Error().Err(err).Str("component", s.Name).Msg("shutdown step failed")
		}
	}
	log.Info().Msg("shutdown complete")
}

// Fatal logs a fatal startup/runtime error and exits with code 2, the
// hardware/fatal-runtime exit code distinct from the config-error code 1
// that internal/config.Load uses.
func Fatal(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(2)
}
