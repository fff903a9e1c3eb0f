package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/focussync/internal/app"
	"github.com/dmitrijs2005/focussync/internal/buildinfo"
	"github.com/dmitrijs2005/focussync/internal/cli"
	"github.com/dmitrijs2005/focussync/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	// keep log lines out of the REPL
	if cfg.LogFile == "" {
		cfg.LogFile = "focussync-cli.log"
	}

	a, err := app.NewApp(ctx, cfg, cli.NewNotifier(os.Stdout))
	if err != nil {
		log.Fatalf("%v", err)
	}

	repl := cli.NewApp(a.Orchestrator(), os.Stdin, os.Stdout)
	if err := a.Run(ctx, repl.Root); err != nil {
		log.Fatalf("%v", err)
	}

}
