package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/adapters/capture"
	"github.com/dkeye/Mesh/internal/cli"
	"github.com/dkeye/Mesh/internal/logging"
)

func main() {
	logging.Init()

	selector, err := codecSelector()
	if err != nil {
		log.Error().Err(err).Msg("failed to set up encoders")
		os.Exit(1)
	}

	root := cli.NewRootCmd(cli.Platform{
		Capturer:       capture.New(selector),
		RegisterCodecs: registerCodecs(selector),
	})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
