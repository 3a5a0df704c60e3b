package config

import (
	"flag"
	"os"

	"github.com/mamyekta/novabot/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN (empty selects the in-memory store)
//	-t string   Telegram bot token
//	-o int      operator chat id
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the -c/-config flags handled by
// the JSON overlay.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-t", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port for the HTTP server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.TelegramToken, "t", config.TelegramToken, "telegram bot token")
	fs.Int64Var(&config.OperatorChatID, "o", config.OperatorChatID, "operator chat id")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
