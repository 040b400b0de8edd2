package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lensproxy/lens/internal/config"
	"github.com/lensproxy/lens/internal/server"
)

func main() {
	port := flag.String("port", "", "Listening port (overrides PORT)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

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
		done := make(chan struct{})
		go func() {
			if err := srv.Close(); err != nil {
				log.Printf("Error during shutdown: %v", err)
			}
			close(done)
		}()
		// Force-exit if clean shutdown hangs past the grace period.
		select {
		case <-done:
		case <-time.After(cfg.Server.ShutdownTimeout + 2*time.Second):
			log.Println("Shutdown deadline exceeded, forcing exit")
			os.Exit(1)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
