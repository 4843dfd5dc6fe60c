package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"ForecastPool/internal/observability"
	"ForecastPool/internal/persistence"

	_ "github.com/lib/pq"
)

func main() {
	var (
		dsn  = flag.String("dsn", os.Getenv("FORECAST_POSTGRES_DSN"), "Postgres DSN")
		dir  = flag.String("dir", "migrations", "migrations directory")
		down = flag.Bool("down", false, "roll back the latest migration instead of applying")
	)
	flag.Parse()

	log := observability.NewLogger("migrate")
	if *dsn == "" {
		log.Fatal().Msg("no DSN: set -dsn or FORECAST_POSTGRES_DSN")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}

	m := persistence.NewMigrator(db, *dir, log)
	if *down {
		err = m.Down(ctx)
	} else {
		err = m.Up(ctx)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
}
