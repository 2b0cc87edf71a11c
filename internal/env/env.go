// Package env holds the process-wide singletons every other package reads
// once startup has wired them: the validated Config and the append-only
// EventLog. Keeping them here (rather than passing them through every
// constructor) matches the teacher's original Cfg/SystemState singleton
// pair.
package env

import (
	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/eventlog"
)

var (
	Cfg      *config.Config
	EventLog *eventlog.Log
)
