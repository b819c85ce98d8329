package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrochem/erp/internal/app"
	_ "github.com/ferrochem/erp/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	main()
}
