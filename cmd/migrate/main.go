package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"motolog.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = pflag.String("dsn", os.Getenv("MOTOLOG_PG_DSN"), "PostgreSQL DSN")
		dir     = pflag.String("dir", "", "read migrations from this directory instead of the embedded set")
		timeout = pflag.Duration("timeout", 60*time.Second, "overall deadline")
	)
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or MOTOLOG_PG_DSN")
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var fsys fs.FS = migrate.Embedded()
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, fsys, "sql", "seeds")

	switch pflag.Arg(0) {
	case "up":
		var names []string
		names, err = mgr.Up(ctx)
		printAll("applied", names)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		var names []string
		names, err = mgr.Seed(ctx)
		printAll("seeded", names)
	case "status":
		var applied, pending []string
		applied, pending, err = mgr.Status(ctx)
		printAll("applied", applied)
		printAll("pending", pending)
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}

func printAll(label string, names []string) {
	for _, name := range names {
		fmt.Println(label, name)
	}
}
