package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/patrikhermansson/cbir/cmd"
	"github.com/rs/zerolog/log"
)

// main is the entry point of the application.
// Logging is configured from CBIR_LOG by the core package and from the config file by the root command.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first interrupt cancels running builds and queries, a second one exits immediately.
	stopChan := make(chan os.Signal, 2)
	signal.Notify(stopChan, os.Interrupt)
	go listenForInterrupt(stopChan, cancel)

	// Program entry point
	cmd.Execute(ctx)
}

// listenForInterrupt waits for interrupt signals on stopChan.
func listenForInterrupt(stopChan chan os.Signal, cancel context.CancelFunc) {
	<-stopChan
	log.Warn().Msg("Interrupt signal received. Stopping...")
	cancel()
	<-stopChan
	log.Fatal().Msg("Second interrupt signal received. Exiting...")
}
