package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/iiif-auth-server/internal/telemetry"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown := telemetry.Setup(context.Background(), "iiif-auth-test")
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}
