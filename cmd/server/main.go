package main

import (
	"context"
	"log"

	"github.com/mamyekta/novabot/internal/server"
	"github.com/mamyekta/novabot/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}
