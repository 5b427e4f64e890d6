package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"enhancement-pipeline/internal/common/logger"
)

var (
	// ErrNotFound covers missing and deactivated tenants alike; callers
	// fail closed either way.
	ErrNotFound = errors.New("tenant not found")
	// ErrUnavailable wraps directory infrastructure failures so callers can
	// distinguish them from a genuinely unknown tenant.
	ErrUnavailable = errors.New("tenant directory unavailable")
)

// Directory is the read-mostly tenant lookup backed by Postgres with an
// in-memory TTL cache. Safe for concurrent reads from many workers.
type Directory struct {
	db     *sql.DB
	cipher *Cipher
	ttl    time.Duration
	log    logger.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	cfg     *TenantConfig
	expires time.Time
}

func NewDirectory(db *sql.DB, cipher *Cipher, ttl time.Duration, log logger.Logger) *Directory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Directory{
		db:     db,
		cipher: cipher,
		ttl:    ttl,
		log:    log.WithFields(map[string]interface{}{"component": "tenant-directory"}),
		cache:  make(map[string]cacheEntry),
	}
}

const lookupSQL = `
SELECT id, tool_type, endpoint_url, encrypted_credential, encrypted_secret,
       active, created_at, updated_at
FROM tenants
WHERE id = $1`

// Lookup returns the tenant config for an active tenant. Inactive tenants
// return ErrNotFound: deactivation must cut off the pipeline immediately.
func (d *Directory) Lookup(ctx context.Context, tenantID string) (*TenantConfig, error) {
	d.mu.RLock()
	entry, ok := d.cache[tenantID]
	d.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		if !entry.cfg.Active {
			return nil, ErrNotFound
		}
		return entry.cfg, nil
	}

	var cfg TenantConfig
	err := d.db.QueryRowContext(ctx, lookupSQL, tenantID).Scan(
		&cfg.ID, &cfg.ToolType, &cfg.EndpointURL,
		&cfg.EncryptedCred, &cfg.EncryptedSecret,
		&cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d.mu.Lock()
	d.cache[tenantID] = cacheEntry{cfg: &cfg, expires: time.Now().Add(d.ttl)}
	d.mu.Unlock()

	if !cfg.Active {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

// WebhookSecret returns the tenant's decrypted webhook signing secret.
func (d *Directory) WebhookSecret(ctx context.Context, tenantID string) ([]byte, error) {
	cfg, err := d.Lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	secret, err := d.cipher.Decrypt(cfg.EncryptedSecret)
	if err != nil {
		// Decryption failure is an operational problem, never a reason to
		// fall back to an unauthenticated path.
		d.log.Error("webhook secret decrypt failed", map[string]interface{}{
			"tenantId": tenantID,
		})
		return nil, fmt.Errorf("%w: secret decrypt failed", ErrUnavailable)
	}
	return secret, nil
}

// Credential returns the tenant's decrypted ticketing API credential.
func (d *Directory) Credential(ctx context.Context, tenantID string) (string, error) {
	cfg, err := d.Lookup(ctx, tenantID)
	if err != nil {
		return "", err
	}
	cred, err := d.cipher.Decrypt(cfg.EncryptedCred)
	if err != nil {
		d.log.Error("api credential decrypt failed", map[string]interface{}{
			"tenantId": tenantID,
		})
		return "", fmt.Errorf("%w: credential decrypt failed", ErrUnavailable)
	}
	return string(cred), nil
}

// Invalidate drops a tenant from the cache. Admin mutation paths call this
// after updating a row.
func (d *Directory) Invalidate(tenantID string) {
	d.mu.Lock()
	delete(d.cache, tenantID)
	d.mu.Unlock()
}
