// Package trace reads environment variables for enabling trace targets in
// the dirstate package.
package trace

import (
	"os"
	"strconv"

	"github.com/glasser/dirstate/utils/trace"
)

// envToTarget maps the environment variables that can be used to enable
// specific trace targets.
var envToTarget = map[string]trace.Target{
	"DIRSTATE_TRACE":        trace.General,
	"DIRSTATE_TRACE_IO":     trace.IO,
	"DIRSTATE_TRACE_BISECT": trace.Bisect,
	"DIRSTATE_TRACE_MUTATE": trace.Mutate,
	"DIRSTATE_TRACE_CHANGE": trace.Change,
}

// ReadEnv reads the environment variables and sets the trace targets.
func ReadEnv() {
	var target trace.Target
	for k, v := range envToTarget {
		env := os.Getenv(k)
		if val, _ := strconv.ParseBool(env); val {
			target |= v
		}
	}
	trace.SetTarget(target)
}
