package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	"chatfunnel/internal/migrations"
	"chatfunnel/internal/security"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	driver := flag.String("driver", "sqlite3", "Database driver (sqlite3 or postgres)")
	dsn := flag.String("dsn", "./chatfunnel.db", "Database DSN (file path for sqlite, connection string for postgres)")
	flag.Parse()

	if *driver != "sqlite3" && *driver != "postgres" {
		log.Fatalf("Unsupported driver: %s", *driver)
	}
	if *driver == "sqlite3" {
		if err := security.ValidateFilePath(*dsn); err != nil {
			log.Fatalf("Invalid database path: %v", err)
		}
	}

	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	fmt.Println("Applying schema...")
	if _, err := db.Exec(migrations.Schema()); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	fmt.Println("Schema applied successfully")
}
