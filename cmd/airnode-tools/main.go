package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"airquality-node/internal/db"
	"airquality-node/internal/db/migrate"
	"airquality-node/internal/journal"
)

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  uploads  print the most recent upload journal entries
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	dbPath := os.Getenv("SQLITE_PATH")
	if dbPath == "" {
		dbPath = "data/airnode.db"
	}
	dbPath = filepath.Clean(dbPath)

	conn, err := db.Open(db.Options{Path: dbPath, MaxOpenConns: 1}, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	ctx := context.Background()
	switch os.Args[1] {
	case "migrate":
		applied, err := migrate.Run(ctx, conn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		for _, m := range applied {
			fmt.Printf("applied %s_%s\n", m.Version, m.Name)
		}
		fmt.Println("migrations applied")
	case "uploads":
		entries, err := journal.NewRepository(conn).Recent(ctx, 20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uploads: %v\n", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-13s  samples=%-3d  %s\n", e.Time.Format("2006-01-02 15:04:05"), e.Outcome, e.Samples, e.Error)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
