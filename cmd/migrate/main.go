package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"postwise.io/internal/config"
	"postwise.io/internal/migrate"
	"postwise.io/internal/obs"
	"postwise.io/internal/store/pg"
)

func main() {
	log := obs.Logger()
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)

	var (
		dsn     = flag.String("dsn", cfg.PGDSN, "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 2*time.Minute, "Overall migration timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB())

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = mgr.Status(ctx)
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Errorf("migrate %s", flag.Arg(0))
		store.Close()
		os.Exit(1)
	}
}
