package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/P2PSP/crossroads/internal/logging"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Error().Err(err).Msg("engine stopped")
	}
	logging.Close()
	if err != nil {
		os.Exit(1)
	}
}
