package config

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
)

// Chain configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// ChainNetworkID is the EVM chain ID transactions are signed for.
	ChainNetworkID int64
	// SignerKey is the hex-encoded private key used to sign transactions.
	SignerKey string
	// Routers maps a network name to the hex address of the yield router
	// contract the engine submits actions through on that network.
	Routers map[string]string
	// TokenAddresses maps an asset symbol to its hex token address.
	TokenAddresses map[string]string
)

// loadChainConfig loads chain configuration from environment variables.
// This function is called by LoadConfig() in config.go.
func loadChainConfig() error {
	var err error

	ChainNetworkID, err = getEnvAsInt64("CHAIN_ID")
	if err != nil {
		return err
	}

	SignerKey, err = getEnv("CHAIN_SIGNER_KEY")
	if err != nil {
		return err
	}

	routersJSON, err := getEnv("CHAIN_ROUTERS")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(routersJSON), &Routers); err != nil {
		return errors.New("environment variable CHAIN_ROUTERS must be a JSON object of network -> address: " + err.Error())
	}
	if len(Routers) == 0 {
		return errors.New("CHAIN_ROUTERS must declare at least one network router")
	}

	tokensJSON, err := getEnv("CHAIN_TOKENS")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(tokensJSON), &TokenAddresses); err != nil {
		return errors.New("environment variable CHAIN_TOKENS must be a JSON object of symbol -> address: " + err.Error())
	}

	log.Debug().
		Int64("ChainNetworkID", ChainNetworkID).
		Int("routers", len(Routers)).
		Int("tokens", len(TokenAddresses)).
		Msg("Chain configuration loaded successfully.")

	return nil
}
