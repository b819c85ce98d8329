// Package guard switches the binaries into test mode when imported by tests.
package guard

import (
	"os"

	"github.com/ferrochem/erp/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
}
