// Command migrate applies the embedded schema migrations to RELAY_DATABASE_URL.
//
//	migrate up
//	migrate down
package main

import (
	"fmt"
	"log"
	"os"

	"relay/cmd/internal/app"
	"relay/cmd/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down")
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if err := db.Migrate(cfg.DatabaseURL, os.Args[1]); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("migrate %s: ok\n", os.Args[1])
}
