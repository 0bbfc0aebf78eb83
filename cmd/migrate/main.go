package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"appbridge/internal/database"
	"appbridge/internal/shared"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	// Get DSN from environment
	DSN, err := shared.SafeEnv("DSN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: DSN environment variable is required: %v\n", err)
		os.Exit(1)
	}

	// Built in journal schema unless a migration file is given
	migrationSQL := database.Schema
	file := shared.GetEnv("MIGRATION_FILE", "")
	if len(os.Args) > 1 {
		file = os.Args[1]
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading migration file %s: %v\n", file, err)
			os.Exit(1)
		}
		migrationSQL = string(raw)
	}

	// Connect to database
	db, err := sql.Open("mysql", DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Test connection
	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging database: %v\n", err)
		os.Exit(1)
	}

	if err := database.Migrate(context.Background(), db, migrationSQL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully!")
}
