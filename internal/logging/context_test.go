package logging

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "cid-1")
	require.Equal(t, "cid-1", GetCorrelationID(ctx))
}

func TestGetCorrelationIDUnset(t *testing.T) {
	require.Empty(t, GetCorrelationID(context.Background()))
}

func TestGenerateCorrelationID(t *testing.T) {
	a := GenerateCorrelationID()
	b := GenerateCorrelationID()
	require.NotEqual(t, a, b)

	_, err := uuid.Parse(a)
	require.NoError(t, err)
}
