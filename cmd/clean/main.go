package main

import (
	"context"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/minto-app/minto/internal/pkg/clean"
	"github.com/minto-app/minto/internal/pkg/miniofs"
	"github.com/minto-app/minto/internal/pkg/postgres"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &clean.Data{}
	data.Port = cfg.GetInt("port")

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

	filer, err := miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.https")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}

	cleaner, err := clean.NewSessionCleaner(db, filer)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init cleaner")
	}
	data.Cleaner = cleaner

	tData := &clean.TimerData{}
	tData.Sweeper = cleaner
	tData.RunEvery = cfg.GetDuration("timer.runEvery")
	tData.Expire = cfg.GetDuration("timer.expire")
	tData.MaxPerRun = cfg.GetInt("timer.maxPerRun")
	tData.Budget = cfg.GetDuration("timer.budget")

	printBanner()

	goapp.Log.Info().Dur("duration", tData.Expire).Msg("expire")

	ctxTimer, cancelFunc := context.WithCancel(ctx)
	doneCh, err := clean.StartSweepTimer(ctxTimer, tData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start timer")
	}
	err = clean.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
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

        __                
  _____/ /__  ____ _____
 / ___/ / _ \/ __ ` + "`" + `/ __ \
/ /__/ /  __/ /_/ / / / /
\___/_/\___/\__,_/_/ /_/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/minto-app/minto"))
}
