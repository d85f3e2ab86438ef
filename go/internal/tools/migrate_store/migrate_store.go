package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/classcast/go/internal/dbconfig"
	"github.com/mcdev12/classcast/go/internal/store"
)

// migrate_store creates the shared preference table used by the postgres store.
func main() {
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(context.Background(), store.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "create student_prefs: %v\n", err)
		os.Exit(1)
	}

	var devices int
	err = pool.QueryRow(context.Background(),
		`SELECT count(DISTINCT device_id) FROM student_prefs`).Scan(&devices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count devices: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("student_prefs ready on %s:%d/%s (%d devices)\n", cfg.Host, cfg.Port, cfg.Database, devices)
}
