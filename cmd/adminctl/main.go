package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/mamyekta/novabot/internal/adminctl"
)

func main() {
	addr := flag.String("s", "http://127.0.0.1:8080", "server base URL")
	flag.Parse()

	app := adminctl.NewApp(*addr, os.Stdout)
	if err := app.Run(context.Background(), flag.Args()); err != nil {
		log.Fatalf("%v", err)
	}
}
