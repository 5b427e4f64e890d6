// Package webhook verifies inbound event authenticity and freshness.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/tenant"
)

var (
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrStaleTimestamp     = errors.New("timestamp outside freshness window")
	ErrMissingField       = errors.New("missing signature or timestamp")
)

// Authenticator validates webhook signatures against tenant secrets.
// Every failure path rejects; there is no default-allow branch.
type Authenticator struct {
	directory *tenant.Directory
	window    time.Duration
	skew      time.Duration
	now       func() time.Time
	log       logger.Logger
}

func NewAuthenticator(directory *tenant.Directory, window, skew time.Duration, log logger.Logger) *Authenticator {
	return &Authenticator{
		directory: directory,
		window:    window,
		skew:      skew,
		now:       time.Now,
		log:       log.WithFields(map[string]interface{}{"component": "webhook-auth"}),
	}
}

// WithClock overrides the clock, for tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Authenticate verifies the claimed signature and the embedded timestamp for
// a tenant's raw payload. The signed message is "<unix-timestamp>.<body>" so
// a captured request cannot be replayed outside the freshness window.
// Secrets and signature values are never logged.
func (a *Authenticator) Authenticate(ctx context.Context, tenantID string, payload []byte, signature, timestamp string) error {
	if signature == "" || timestamp == "" {
		return ErrMissingField
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}
	sent := time.Unix(unix, 0)
	age := a.now().Sub(sent)
	if age > a.window+a.skew || age < -a.skew {
		a.log.Warn("rejected stale webhook", map[string]interface{}{
			"tenantId":   tenantID,
			"ageSeconds": int(age.Seconds()),
		})
		return ErrStaleTimestamp
	}

	// Tenant lookup failure rejects too: fail closed.
	secret, err := a.directory.WebhookSecret(ctx, tenantID)
	if err != nil {
		a.log.Warn("tenant secret unavailable for webhook", map[string]interface{}{
			"tenantId": tenantID,
		})
		return err
	}

	claimed, err := decodeSignature(signature)
	if err != nil {
		return ErrMalformedSignature
	}

	expected := Sign(secret, timestamp, payload)
	if !hmac.Equal(claimed, expected) {
		a.log.Warn("webhook signature mismatch", map[string]interface{}{
			"tenantId": tenantID,
		})
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the HMAC-SHA256 over "<timestamp>.<payload>".
func Sign(secret []byte, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignHex is the header-encoded form of Sign, used by tests and by vendor
// connectors that produce outgoing signatures.
func SignHex(secret []byte, timestamp string, payload []byte) string {
	return "sha256=" + hex.EncodeToString(Sign(secret, timestamp, payload))
}

// VerifyRaw is the plugin-facing primitive: constant-time comparison of a
// claimed signature against the expected one for a raw payload, without a
// timestamp component. Vendor adapters that sign only the body use this.
func VerifyRaw(secret, payload []byte, signature string) bool {
	claimed, err := decodeSignature(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(claimed, mac.Sum(nil))
}

func decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimPrefix(signature, "sha256=")
	raw, err := hex.DecodeString(signature)
	if err != nil || len(raw) != sha256.Size {
		return nil, ErrMalformedSignature
	}
	return raw, nil
}
