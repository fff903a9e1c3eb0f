package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/focussync/internal/app"
	"github.com/dmitrijs2005/focussync/internal/buildinfo"
	"github.com/dmitrijs2005/focussync/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg, nil)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx, nil); err != nil {
		log.Fatalf("%v", err)
	}

}
