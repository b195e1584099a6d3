package cli

import (
	"os"
	"testing"

	"github.com/Paintersrp/prockeeper/internal/config"
	"github.com/Paintersrp/prockeeper/internal/daemon"
)

// envTestChildConfig points the re-executed test binary at a config file the
// parent never reads.
const envTestChildConfig = "PROCKEEPER_TEST_CHILD_CONFIG"

// TestMain doubles as the detached daemon for the re-exec tests.
func TestMain(m *testing.M) {
	if daemon.IsChild() {
		if path := os.Getenv(envTestChildConfig); path != "" {
			_ = os.Setenv(config.EnvConfig, path)
		}
		Execute()
		os.Exit(0)
	}
	os.Exit(m.Run())
}
