// Package auth issues and verifies the HMAC-signed bearer tokens handed to a
// tenant's end users. The tenant id rides in the token as an explicit claim
// and is checked against the tenant resolved for the current request, so a
// token minted under one tenant can never act inside another.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"bazaarbot/core/tenant"
	"bazaarbot/core/utils"
)

var (
	ErrTokenMalformed = errors.New("bearer token malformed")
	ErrTokenSignature = errors.New("bearer token signature invalid")
	ErrTokenExpired   = errors.New("bearer token expired")
	// ErrMissingTenantClaim means the token carries no tenant id at all,
	// distinct from carrying the wrong one.
	ErrMissingTenantClaim = errors.New("bearer token missing tenant claim")
)

type Claims struct {
	TokenID  string `json:"jti"`
	Subject  string `json:"sub"`
	TenantID int64  `json:"tenant_id"`
	Exp      int64  `json:"exp"`
}

// Issue signs a token for subject under tenantID, valid for ttl.
func Issue(secret, subject string, tenantID int64, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("empty token secret")
	}
	claims := Claims{
		TokenID:  uuid.Must(uuid.NewV4()).String(),
		Subject:  subject,
		TenantID: tenantID,
		Exp:      utils.NowUTC().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := hmacSHA256([]byte(secret), []byte(encoded))
	return encoded + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Parse verifies the signature and expiry and returns the claims.
func Parse(secret, token string, now time.Time) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("empty token secret")
	}
	payloadPart, sigPart, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payloadPart == "" || sigPart == "" {
		return nil, ErrTokenMalformed
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	wantSig := hmacSHA256([]byte(secret), []byte(payloadPart))
	if subtle.ConstantTimeCompare(gotSig, wantSig) != 1 {
		return nil, ErrTokenSignature
	}
	rawPayload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(rawPayload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}
	if claims.Exp <= 0 || now.UTC().Unix() >= claims.Exp {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// VerifyTenant asserts the token's tenant claim matches the tenant bound to
// the request context. A missing claim and a mismatching claim are distinct
// failures: unauthorized versus forbidden.
func VerifyTenant(ctx context.Context, claims *Claims) error {
	if claims.TenantID == 0 {
		return ErrMissingTenantClaim
	}
	bound, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if claims.TenantID != bound {
		return tenant.ErrTenantMismatch
	}
	return nil
}

func hmacSHA256(secret, payload []byte) []byte {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write(payload)
	return m.Sum(nil)
}
