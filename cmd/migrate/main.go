package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pricetrail.io/internal/migrate"
	"pricetrail.io/internal/obs"
	"pricetrail.io/internal/store/pg"
	"pricetrail.io/migrations"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	var (
		dsn     = flag.String("dsn", os.Getenv("PRICETRAIL_PG_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "directory holding sql/ and seeds/, instead of the embedded set")
		timeout = flag.Duration("timeout", 2*time.Minute, "overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PRICETRAIL_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	logger, err := obs.InitLogger(os.Getenv("PRICETRAIL_LOG_LEVEL"), true)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.WithPool(2, 2, time.Minute))
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	var fsys fs.FS = migrations.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(store.DB(), fsys, migrate.WithLogger(logger))

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", flag.Arg(0)))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}
