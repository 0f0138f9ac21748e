package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// ChainRPC is the JSON-RPC endpoint of the EVM node.
	ChainRPC string
	// PriceAPI is the HTTP endpoint serving spot prices for price-based triggers.
	PriceAPI string
	// TelegramBotToken is the bot token for execution notifications.
	// Optional: when empty, notifications are disabled.
	TelegramBotToken string
	// TelegramChatID is the chat the notifier reports to.
	TelegramChatID string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in config.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	ChainRPC, err = getEnv("CHAIN_RPC")
	if err != nil {
		return err
	}

	PriceAPI, err = getEnv("PRICE_API")
	if err != nil {
		return err
	}

	TelegramBotToken = getEnvOptional("TELEGRAM_BOT_TOKEN")
	TelegramChatID = getEnvOptional("TELEGRAM_CHAT_ID")

	log.Debug().
		Str("ChainRPC", ChainRPC).
		Str("PriceAPI", PriceAPI).
		Bool("telegramEnabled", TelegramBotToken != "").
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
