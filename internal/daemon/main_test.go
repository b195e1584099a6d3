package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

const envTestHelper = "PROCKEEPER_TEST_HELPER"

// Helper behaviours selected through envTestHelper.
const (
	helperRelease = "1"
	helperExit    = "exit"
	helperFail    = "fail"
	helperHang    = "hang"
)

// TestMain doubles as the detached process for the re-exec tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv(envTestHelper); mode != "" && IsChild() {
		os.Exit(runHelperChild(mode))
	}
	os.Exit(m.Run())
}

func runHelperChild(mode string) int {
	switch mode {
	case helperExit:
		return 4
	case helperFail:
		ReportFailure(errors.New("open config file: permission denied"))
		return 1
	case helperHang:
		time.Sleep(time.Minute)
		return 5
	}
	if err := Release(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "release:", err)
		return 2
	}
	cwd, _ := os.Getwd()
	report := fmt.Sprintf("pid=%d cwd=%s umask=%04o\n", os.Getpid(), cwd, currentUmask())
	if err := os.WriteFile("released", []byte(report), 0o666); err != nil {
		fmt.Fprintln(os.Stderr, "report:", err)
		return 3
	}
	fmt.Println("helper released")
	return 0
}
