package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv turns the binaries into no-ops so packages importing them can be tested.
const TestModeEnv = "FERROCHEM_TEST_MODE"

// 0 follows the environment, 1 forces on, 2 forces off.
var testModeOverride atomic.Int32

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	switch testModeOverride.Load() {
	case 1:
		return true
	case 2:
		return false
	}
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
}

// SetTestMode forces test mode on or off regardless of the environment.
func SetTestMode(on bool) {
	if on {
		testModeOverride.Store(1)
		return
	}
	testModeOverride.Store(2)
}

// ResetTestMode makes InTestMode follow the environment again.
func ResetTestMode() {
	testModeOverride.Store(0)
}
