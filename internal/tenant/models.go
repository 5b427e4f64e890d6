// Package tenant implements the read-mostly tenant directory: per-tenant
// secrets, tool type, and endpoint configuration.
package tenant

import "time"

// TenantConfig is one tenant's pipeline configuration. Credentials are held
// encrypted; use Directory.WebhookSecret / Directory.Credential to decrypt.
type TenantConfig struct {
	ID              string
	ToolType        string
	EndpointURL     string
	EncryptedCred   []byte
	EncryptedSecret []byte
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
