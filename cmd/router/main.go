package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chainsafe/bridge-router/pkg/app/api"
	"github.com/chainsafe/bridge-router/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := api.NewServer(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Router server failed: %v\n", err)
		os.Exit(1)
	}
}
