package covey

import (
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// debugger traces resolution decisions. It is a no-op unless COVEY_DEBUG is
// set, or a logger is installed through SetDebugLogger. The environment flag
// is read lazily, so toggling it after import (t.Setenv in particular) is
// observed.
type debugger struct {
	mu     sync.RWMutex
	custom bool
	logger zerolog.Logger

	env         *environment
	consoleOnce sync.Once
	console     zerolog.Logger
}

var dbg = &debugger{env: newEnvironment()}

// SetDebugLogger redirects resolution tracing to the given logger, overriding
// the COVEY_DEBUG toggle.
func SetDebugLogger(logger zerolog.Logger) {
	dbg.mu.Lock()
	dbg.custom = true
	dbg.logger = logger
	dbg.mu.Unlock()
}

func (d *debugger) current() zerolog.Logger {
	d.mu.RLock()
	if d.custom {
		logger := d.logger
		d.mu.RUnlock()
		return logger
	}
	d.mu.RUnlock()

	if !d.env.debugEnabled() {
		return zerolog.Nop()
	}
	d.consoleOnce.Do(func() {
		d.console = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
			With().
			Timestamp().
			Logger().
			Level(zerolog.DebugLevel)
	})
	return d.console
}

func (d *debugger) resolving(typ reflect.Type, opts *ResolveOptions) {
	logger := d.current()
	logger.Debug().
		Str("type", typeName(typ)).
		Str("qualifier", opts.qualifier).
		Msg("resolving dependency")
}

func (d *debugger) resolvingQualified(typ reflect.Type, qualifier string) {
	logger := d.current()
	logger.Debug().
		Str("type", typeName(typ)).
		Str("qualifier", qualifier).
		Msg("resolving qualified dependency")
}

func (d *debugger) usingDefaultFactory(typ reflect.Type) {
	logger := d.current()
	logger.Debug().
		Str("type", typeName(typ)).
		Msg("no registered factory matched, using fallback factory")
}

func (d *debugger) injectedParameter(parameter string, typ reflect.Type, function string) {
	logger := d.current()
	logger.Debug().
		Str("parameter", parameter).
		Str("type", typeName(typ)).
		Str("function", function).
		Msg("injected parameter")
}

func (d *debugger) lenientZero(parameter string, function string) {
	logger := d.current()
	logger.Debug().
		Str("parameter", parameter).
		Str("function", function).
		Msg("parameter could not be resolved, injecting zero value")
}
