package settings

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"salonhub-backend/internal/models"
)

// Provider serves the read-mostly PlatformSettings singleton with a short
// TTL cache so the billing sweeps do not hit the database per tenant.
type Provider struct {
	db  *gorm.DB
	ttl time.Duration

	mu        sync.RWMutex
	cached    models.PlatformSettings
	fetchedAt time.Time
}

// NewProvider creates a settings provider backed by db.
func NewProvider(db *gorm.DB) *Provider {
	return &Provider{db: db, ttl: 1 * time.Minute}
}

// Get returns the current platform settings.
func (p *Provider) Get() (models.PlatformSettings, error) {
	p.mu.RLock()
	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < p.ttl {
		s := p.cached
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	var s models.PlatformSettings
	if err := p.db.First(&s).Error; err != nil {
		return models.PlatformSettings{}, err
	}

	p.mu.Lock()
	p.cached = s
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	return s, nil
}

// Invalidate drops the cached row; the next Get re-reads the database.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}
