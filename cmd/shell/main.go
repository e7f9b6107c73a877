package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lensfield/photoshell/internal/infrastructure/config"
	"github.com/lensfield/photoshell/internal/server"
)

func main() {
	port := flag.String("port", "", "IPC server port (overrides config)")
	backendCmd := flag.String("backend", "", "backend command (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *backendCmd != "" {
		cfg.Backend.Command = *backendCmd
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to start shell: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		log.Fatalf("Server error: %v", err)
	}
}
