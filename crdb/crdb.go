package crdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/obslake/obslake/gologger"
	"github.com/obslake/obslake/utils"
)

var (
	PGPool                 *pgxpool.Pool
	StandardContextTimeout = 10 * time.Second

	logger = gologger.NewLogger()
)

func ConnectToDB() error {
	logger.Debug().Msg("connecting to catalog DB...")
	var err error
	config, err := pgxpool.ParseConfig(utils.CATALOG_DSN)
	if err != nil {
		return err
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.HealthCheckPeriod = time.Second * 5
	config.MaxConnLifetime = time.Minute * 30
	config.MaxConnIdleTime = time.Minute * 30

	PGPool, err = pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return err
	}
	logger.Debug().Msg("connected to catalog DB")
	return nil
}
