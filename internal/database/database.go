package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salonhub-backend/internal/config"
	apperrors "salonhub-backend/internal/errors"
)

// DB is the global database instance
var DB *gorm.DB

// InitDatabase initializes the database connection
func InitDatabase() error {
	host := config.GetEnv("DB_HOST", "localhost")
	port := config.GetEnv("DB_PORT", "5432")
	user := config.GetEnv("DB_USER", "salonhub")
	password := os.Getenv("DB_PASSWORD")
	dbname := config.GetEnv("DB_NAME", "salonhub")

	// Require SSL unless explicitly running in development
	sslMode := config.GetEnv("DB_SSLMODE", "require")
	if os.Getenv("DB_SSLMODE") == "" && (os.Getenv("ENVIRONMENT") == "development" || os.Getenv("ENVIRONMENT") == "dev") {
		sslMode = "disable"
		log.Println("⚠️  Database SSL disabled for development environment")
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslMode)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("✅ Database connected successfully")
	return nil
}

// RunMigrations runs all database migrations
func RunMigrations(models ...interface{}) error {
	if DB == nil {
		log.Println("⚠️  Skipping migrations: no database connection")
		return nil
	}

	log.Println("Running database migrations...")

	if err := DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("✅ Database migrations completed")
	return nil
}

// ForUpdate adds a row lock on dialects that support it. SQLite serializes
// writers on its own, so the clause is skipped there.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// txRetries bounds transparent retries on record-level conflicts before
// the conflict surfaces to the caller.
const txRetries = 3

// Retryable reports whether err is a transient transaction conflict that
// is safe to retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "could not serialize")
}

// IsDuplicateKey reports whether err is a unique-constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

// WithRetry runs fn in a transaction, retrying a bounded number of times
// when the transaction aborts on a deadlock or serialization conflict.
func WithRetry(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		lastErr = db.WithContext(ctx).Transaction(fn)
		if lastErr == nil || !Retryable(lastErr) {
			return lastErr
		}
		log.Printf("⚠️  Transaction conflict, retrying (attempt %d): %v", attempt+1, lastErr)
	}
	return apperrors.Wrap(lastErr, apperrors.CodeConcurrencyConflict, "transaction conflicted repeatedly")
}
