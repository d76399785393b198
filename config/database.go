package config

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

const (
	DatabasePath   = "./data/macrostudio.db"
	MigrationsPath = "./scripts/migrations.sql"
)

// InitDatabase opens the SQLite database and applies migrations.
func InitDatabase() (*sql.DB, error) {
	if err := os.MkdirAll("./data", 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", DatabasePath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	log.Println("Database initialized successfully")
	return db, nil
}

func runMigrations(db *sql.DB) error {
	migrations, err := os.ReadFile(MigrationsPath)
	if err != nil {
		return err
	}

	_, err = db.Exec(string(migrations))
	return err
}
