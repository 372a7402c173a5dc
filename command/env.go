package command

import (
	"log/slog"

	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/fault"
	"github.com/jacentio/dynorm/mapper"
	"github.com/jacentio/dynorm/uniques"
)

// State is the lifecycle position of a command. Commands are single use.
type State int

const (
	Constructed State = iota
	Translated
	Executed
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Translated:
		return "translated"
	case Executed:
		return "executed"
	}
	return "unknown"
}

// Options tunes command behaviour.
type Options struct {
	// SkipUniqueChecks disables the duplicate check before writes. Cache
	// maintenance still happens.
	SkipUniqueChecks bool

	// CompleteFlush makes Flush discover every kind in the store instead of
	// trusting the tables it was given. It only applies in a test
	// environment.
	CompleteFlush bool

	// TestEnvironment marks the process as an automated test run. Callers
	// set it explicitly.
	TestEnvironment bool
}

// Env carries what every command needs to run.
type Env struct {
	Store   datastore.Datastore
	Mapper  *mapper.Mapper
	Uniques *uniques.Uniques
	Logger  *slog.Logger
	Options Options
}

func (e *Env) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

type lifecycle struct {
	state State
}

// State returns the command's lifecycle position.
func (l *lifecycle) State() State { return l.state }

func (l *lifecycle) begin() error {
	if l.state != Translated {
		return fault.ErrCommandState
	}
	l.state = Executed
	return nil
}
