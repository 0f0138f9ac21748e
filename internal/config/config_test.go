package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENGINE_WORKERS", "4")
	t.Setenv("ENGINE_POLL_INTERVAL", "1m")
	t.Setenv("ENGINE_DUE_BATCH_SIZE", "50")
	t.Setenv("ENGINE_LEASE_TTL", "5m")
	t.Setenv("ENGINE_FRESHNESS_BOUND", "5m")
	t.Setenv("ENGINE_CONFIRM_TIMEOUT", "2m")
	t.Setenv("ENGINE_PENDING_RECOVERY_TIMEOUT", "10m")
	t.Setenv("ENGINE_DEFAULT_REARM_INTERVAL", "1h")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("CHAIN_SIGNER_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("CHAIN_ROUTERS", `{"ethereum":"0x1111111111111111111111111111111111111111"}`)
	t.Setenv("CHAIN_TOKENS", `{"USDC":"0x2222222222222222222222222222222222222222"}`)
	t.Setenv("CHAIN_RPC", "http://localhost:8545")
	t.Setenv("PRICE_API", "http://localhost:9000/prices")
}

func TestLoadConfigSucceedsWithFullEnvironment(t *testing.T) {
	setRequiredEnv(t)

	require.NoError(t, LoadConfig())
	assert.Equal(t, 4, Workers)
	assert.Equal(t, 5*time.Minute, LeaseTTL)
	assert.Equal(t, 2*time.Minute, ConfirmTimeout)
	assert.Equal(t, int64(1), ChainNetworkID)
}

func TestLoadConfigRejectsLeaseShorterThanConfirmationWait(t *testing.T) {
	// A lease that expires inside the confirmation wait would let a second
	// worker take over a strategy whose transaction is still in flight.
	setRequiredEnv(t)
	t.Setenv("ENGINE_LEASE_TTL", "1m")
	t.Setenv("ENGINE_CONFIRM_TIMEOUT", "2m")
	assert.Error(t, LoadConfig())

	setRequiredEnv(t)
	t.Setenv("ENGINE_LEASE_TTL", "2m")
	t.Setenv("ENGINE_CONFIRM_TIMEOUT", "2m")
	assert.Error(t, LoadConfig(), "equal lease and confirmation wait leaves no execution margin")
}

func TestLoadConfigRequiresEveryEngineVariable(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENGINE_POLL_INTERVAL", "")
	assert.Error(t, LoadConfig())
}
