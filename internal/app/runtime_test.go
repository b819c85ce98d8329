package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInTestMode(t *testing.T) {
	t.Cleanup(ResetTestMode)

	t.Setenv(TestModeEnv, "")
	require.False(t, InTestMode())

	t.Setenv(TestModeEnv, "true")
	require.True(t, InTestMode())

	SetTestMode(false)
	require.False(t, InTestMode())

	ResetTestMode()
	t.Setenv(TestModeEnv, "0")
	require.False(t, InTestMode())
	SetTestMode(true)
	require.True(t, InTestMode())
}
