package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"salonhub-backend/internal/models"
)

// Standalone utility to reset the admin password without going through the API.
// Run with ADMIN_EMAIL and ADMIN_PASSWORD set.
func main() {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		getenv("DB_HOST", "localhost"),
		getenv("DB_USER", "salonhub"),
		os.Getenv("DB_PASSWORD"),
		getenv("DB_NAME", "salonhub"),
		getenv("DB_PORT", "5432"),
		getenv("DB_SSLMODE", "disable"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	email := getenv("ADMIN_EMAIL", "admin@salonhub.rs")
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Fatal("ADMIN_PASSWORD environment variable is required")
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		log.Fatalf("Failed to find user: %v", err)
	}

	user.Password = string(hashedBytes)
	user.Active = true

	if err := db.Save(&user).Error; err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}

	fmt.Println("Password updated successfully!")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
