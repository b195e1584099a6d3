package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Paintersrp/prockeeper/internal/metrics"
)

// versionString renders the build settings printed by --version. It is a flag
// rather than a subcommand so "version" stays usable as a supervised command.
func versionString() string {
	settings := metrics.BuildSettings()
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("prockeeper")
	for _, key := range keys {
		fmt.Fprintf(&b, "\n  %s: %s", key, settings[key])
	}
	return b.String()
}
