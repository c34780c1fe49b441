package main

import (
	"context"
	"os"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/minto-app/minto/internal/pkg/postgres"
)

// one-shot monthly quota reset job
func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	printBanner()

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	rep, err := db.ResetAll(ctx)
	if rep != nil {
		goapp.Log.Info().Int("processed", rep.Processed).Int("reset", rep.Reset).
			Int("failed", rep.Failed).Msg("reset done")
	}
	if err != nil {
		goapp.Log.Error().Err(err).Msg("some organizations were not reset")
	}
	if rep == nil || rep.Reset == 0 && rep.Failed > 0 {
		os.Exit(1)
	}
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
    __  ___ ____ _   __ ______ ____
   /  |/  //  _// | / //_  __// __ \
  / /|_/ / / / /  |/ /  / /  / / / /
 / /  / /_/ / / /|  /  / /  / /_/ /
/_/  /_//___//_/ |_/  /_/   \____/

   ________  ________  / /_
  / ___/ _ \/ ___/ _ \/ __/
 / /  /  __(__  )  __/ /_
/_/   \___/____/\___/\__/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/minto-app/minto"))
}
