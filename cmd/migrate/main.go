package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"telemirror/internal/migrations"
)

// Standalone schema applier. The service applies the schema itself on
// startup; this exists for provisioning a database ahead of a deploy
// or from CI.
func main() {
	dsn := flag.String("dsn", "", "Postgres DSN (defaults to DATABASE_URL)")
	flag.Parse()

	connStr := *dsn
	if connStr == "" {
		connStr = os.Getenv("DATABASE_URL")
	}
	if connStr == "" {
		log.Fatal("no DSN: pass -dsn or set DATABASE_URL")
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		log.Fatalf("Failed to load schema: %v", err)
	}

	// The schema is written with IF NOT EXISTS throughout, so applying
	// it to an already-provisioned database is a no-op.
	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	fmt.Println("Schema applied successfully")
}
