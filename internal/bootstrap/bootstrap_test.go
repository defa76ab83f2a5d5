package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

func TestCloseRunsInReverseAndCollectsErrors(t *testing.T) {
	rt := &Runtime{Logger: logger.Nop()}
	var order []string
	rt.onClose("database", func() error { order = append(order, "database"); return errors.New("db busy") })
	rt.onClose("redis", func() error { order = append(order, "redis"); return nil })
	rt.onClose("pubsub", func() error { order = append(order, "pubsub"); return errors.New("pubsub gone") })

	err := rt.Close()
	require.Error(t, err)
	assert.Equal(t, []string{"pubsub", "redis", "database"}, order)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorContains(t, err, "close database: db busy")

	assert.NoError(t, rt.Close(), "second close is a no-op")
}

func TestLoadStampsServiceKind(t *testing.T) {
	t.Setenv(config.EnvAppEnv, "dev")
	t.Setenv(config.EnvPort, "8080")
	t.Setenv(config.EnvDBDSN, "file:bootstrap.db")
	t.Setenv(config.EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(config.EnvJWTSecret, "secret")
	t.Setenv(config.EnvJWTIssuer, "marketplace")

	rt, err := Load("cron-worker")
	require.NoError(t, err)
	assert.Equal(t, "cron-worker", rt.Config.Service.Kind)
	assert.NotNil(t, rt.Logger)
}
