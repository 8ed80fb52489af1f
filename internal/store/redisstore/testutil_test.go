//go:build integration

package redisstore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/credit-markets/vitalfi-backend/internal/store/redisstore"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupTestContainer starts a Redis container via testcontainers-go and
// returns a connected *redisstore.Store.
// The container and client are automatically cleaned up when the test ends.
func setupTestContainer(t *testing.T) *redisstore.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	st, err := redisstore.New(connStr, "vitalfi_it", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}
