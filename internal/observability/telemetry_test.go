package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTelemetry_DisabledWithoutEndpoint(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	assert.False(t, Enabled())

	shutdown, err := InitTelemetry(context.Background(), "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
