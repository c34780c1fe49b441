package main

import (
	"context"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/minto-app/minto/internal/pkg/ingest"
	"github.com/minto-app/minto/internal/pkg/postgres"
	"github.com/minto-app/minto/internal/pkg/utils"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &ingest.Data{}
	data.Port = cfg.GetInt("port")
	var err error

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	data.DB = db

	data.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	utils.RunPerfEndpoint()

	err = ingest.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
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

       ___                  __       __
  ____/ (_)________  ____ _/ /______/ /_
 / __  / / ___/ __ \/ __ ` + "`" + `/ __/ ___/ __ \
/ /_/ / (__  ) /_/ / /_/ / /_/ /__/ / / /
\__,_/_/____/ .___/\__,_/\__/\___/_/ /_/  v: %s
           /_/

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/minto-app/minto"))
}
