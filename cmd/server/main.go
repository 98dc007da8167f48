// Command server runs the feedwire realtime server: the websocket DM and
// presence layer plus the HTTP API it collaborates with.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/feedwire/feedwire/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.feedwire/config.toml", "path to config file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	port := flag.Int("port", 0, "public HTTP port (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	config := tomlConfig.ToServerConfig()
	if *port != 0 {
		config.HTTPPort = *port
	}

	databasePath := *dbPath
	if databasePath == "" {
		databasePath, err = tomlConfig.GetDatabasePath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve database path: %v\n", err)
			os.Exit(1)
		}
	}

	srv, err := server.NewServer(databasePath, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if *debug {
		srv.EnableDebugLogging()
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}
}
