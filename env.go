package covey

import (
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "COVEY"

// environment exposes the process environment toggles, backed by Viper so
// they pick up live changes (t.Setenv in tests in particular).
type environment struct {
	v *viper.Viper
}

func newEnvironment() *environment {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &environment{v: v}
}

// globalContextEnabled reports whether the process-wide container is usable,
// controlled by COVEY_ENABLE_GLOBAL_CONTEXT. Unset and unrecognized values
// mean enabled.
func (e *environment) globalContextEnabled() bool {
	return parseFlag(e.v.GetString("enable_global_context"), true)
}

// debugEnabled reports whether resolution tracing should be emitted,
// controlled by COVEY_DEBUG. Disabled unless explicitly turned on.
func (e *environment) debugEnabled() bool {
	return parseFlag(e.v.GetString("debug"), false)
}

func parseFlag(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "1", "y", "on":
		return true
	case "no", "false", "0", "n", "off":
		return false
	default:
		return fallback
	}
}
