package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/knaka3/tsumugi/internal/tsumugi/app"
	"github.com/knaka3/tsumugi/internal/tsumugi/config"
	"github.com/knaka3/tsumugi/internal/tsumugi/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	// A .env file is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	relay, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tsumugi: %v\n", err)
		os.Exit(1)
	}
	defer relay.Stop()

	if err := relay.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running tsumugi: %v\n", err)
		os.Exit(1)
	}
}
