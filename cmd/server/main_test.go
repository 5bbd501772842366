// cmd/server/main_test.go
package main

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanizer-api/internal/common/config"
	"humanizer-api/internal/common/logger"
)

func TestConnectRedisReachableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Database.Redis.Address = mr.Addr()

	client, err := connectRedis(cfg, logger.NewTestLogger(t), 1, 0)
	require.NoError(t, err)
	defer client.Close()
}

func TestConnectRedisFailsWhenStoreIsDown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Redis.Address = "127.0.0.1:1"

	_, err := connectRedis(cfg, logger.NewTestLogger(t), 2, time.Millisecond)
	assert.Error(t, err, "a constructed client is not a connected client")
}

func TestConnectPostgresFailsWhenStoreIsDown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Postgres.Host = "127.0.0.1"
	cfg.Database.Postgres.Port = 1
	cfg.Database.Postgres.Database = "app"
	cfg.Database.Postgres.User = "app"
	cfg.Database.Postgres.SSLMode = "disable"

	_, err := connectPostgres(cfg, logger.NewTestLogger(t), 2, time.Millisecond)
	assert.Error(t, err)
}

func TestRetryWithBackoffStopsOnSuccess(t *testing.T) {
	calls := 0
	err := retryWithBackoff(5, 0, func() error {
		calls++
		if calls < 3 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
