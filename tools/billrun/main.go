package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"

	billingapp "utilibill/internal/billing/application"
	billingrepo "utilibill/internal/billing/infrastructure/postgres"
	customerrepo "utilibill/internal/customer/infrastructure/postgres"
	"utilibill/internal/locking"
	meteringrepo "utilibill/internal/metering/infrastructure/postgres"
	tariffrepo "utilibill/internal/tariff/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection string")
	configPath := flag.String("config", "billrun.yaml", "batch run config file")
	nodeID := flag.Int64("node", 1, "snowflake node id")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall run timeout")
	flag.Parse()

	logger := log.New(os.Stdout, "billrun ", log.LstdFlags)

	if *dbURL == "" {
		*dbURL = os.Getenv("PG_DSN")
	}
	if *dbURL == "" {
		logger.Fatal("-db or DATABASE_URL/PG_DSN is required")
	}

	cfg, err := billingapp.LoadBatchConfig(*configPath)
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	node, err := snowflake.NewNode(*nodeID)
	if err != nil {
		logger.Fatalf("snowflake node error: %v", err)
	}

	service, err := billingapp.NewBillingService(
		billingrepo.NewRepository(db),
		customerrepo.NewRepository(db),
		tariffrepo.NewRepository(db),
		meteringrepo.NewMeterRepository(db),
		meteringrepo.NewReadingRepository(db),
		locking.NewKeyedMutex(),
		node,
		logger,
	)
	if err != nil {
		logger.Fatalf("billing service error: %v", err)
	}

	runner, err := billingapp.NewBatchRunner(service, cfg.Workers, logger)
	if err != nil {
		logger.Fatalf("batch runner error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	started := time.Now()
	result, err := runner.Run(ctx, cfg)
	if err != nil {
		logger.Fatalf("run error: %v", err)
	}
	logger.Printf("run complete in %s: invoiced=%d skipped=%d failed=%d overdue=%d",
		time.Since(started).Round(time.Millisecond),
		result.Invoiced, result.Skipped, result.Failed, result.Overdue)
	if result.Failed > 0 {
		os.Exit(1)
	}
}
