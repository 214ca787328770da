package bootstrap

import (
	"log"
	"os"
	"strings"

	"gorm.io/gorm"

	"salonhub-backend/internal/auth"
	"salonhub-backend/internal/config"
	"salonhub-backend/internal/models"
)

// Run seeds the platform settings singleton and the initial admin user so a
// fresh Docker Compose stack comes up usable.
func Run(db *gorm.DB) {
	if db == nil {
		log.Println("bootstrap: skipping; database not initialized")
		return
	}

	ensureSettings(db)
	ensureAdminUser(db)
}

func ensureSettings(db *gorm.DB) {
	var cfg models.PlatformSettings
	if err := db.First(&cfg).Error; err == nil {
		return
	}

	cfg = models.PlatformSettings{
		BasePrice:       config.GetEnvInt64("BASE_PRICE", 3600),
		LocationPrice:   config.GetEnvInt64("LOCATION_PRICE", 1800),
		TrialDays:       config.GetEnvInt("TRIAL_DAYS", 60),
		GracePeriodDays: config.GetEnvInt("GRACE_PERIOD_DAYS", 7),
		PaymentDueDays:  config.GetEnvInt("PAYMENT_DUE_DAYS", 14),
		Currency:        config.GetEnv("CURRENCY", "RSD"),
	}
	if err := db.Create(&cfg).Error; err != nil {
		log.Printf("bootstrap: failed to seed platform settings: %v", err)
		return
	}

	log.Printf("bootstrap: seeded platform settings (base %d %s, trial %d days)",
		cfg.BasePrice, cfg.Currency, cfg.TrialDays)
}

func ensureAdminUser(db *gorm.DB) {
	email := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if email == "" {
		email = "admin@salonhub.rs"
	}

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err == nil {
		return
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Println("bootstrap: ADMIN_PASSWORD not set, skipping admin user creation")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Printf("bootstrap: failed to hash admin password: %v", err)
		return
	}

	user = models.User{
		Email:    email,
		Password: hash,
		Name:     "Administrator",
		Role:     "admin",
		Active:   true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Printf("bootstrap: failed to create admin user %q: %v", email, err)
		return
	}

	log.Printf("bootstrap: created admin user %q (ID %d)", user.Email, user.ID)
}
