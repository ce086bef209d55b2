package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/tfdriver/cmd/tfdriver/commands"
)

// Set with -ldflags "-X main.Version=..." at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	bootstrapLogger()

	// Cancelling ctx stops the running tool through its process group.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if ctx.Err() != nil {
		log.Info().Msg("interrupted")
	}
	stop()
	if err != nil {
		log.Error().Err(err).Msg("tfdriver failed")
		os.Exit(1)
	}
}

// bootstrapLogger serves until the configuration has been loaded. Its
// level applies to this logger only. The global level is opened fully so
// each logger's own level decides, trace included.
func bootstrapLogger() {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
