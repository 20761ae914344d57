package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HMACVerifier signs and verifies tokens of the form
// base64url(uid).expiryUnix.hex(hmac-sha256(secret, "uid.expiry")).
type HMACVerifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // signature → expiry
}

func NewHMACVerifier(secret string, ttl time.Duration) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &HMACVerifier{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}, nil
}

func (v *HMACVerifier) sign(payload string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign mints a token for uid valid for the configured TTL.
func (v *HMACVerifier) Sign(uid string) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, errors.New("uid is empty")
	}
	exp := v.now().Add(v.ttl).Truncate(time.Second)
	payload := base64.RawURLEncoding.EncodeToString([]byte(uid)) + "." + strconv.FormatInt(exp.Unix(), 10)
	return payload + "." + v.sign(payload), exp, nil
}

// VerifySession implements Verifier.
func (v *HMACVerifier) VerifySession(_ context.Context, token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, ErrInvalidSession
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(v.sign(payload)), []byte(parts[2])) {
		return Identity{}, ErrInvalidSession
	}
	uid, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(uid) == 0 {
		return Identity{}, ErrInvalidSession
	}
	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Identity{}, ErrInvalidSession
	}
	if !v.now().Before(time.Unix(expUnix, 0)) {
		return Identity{}, ErrExpiredSession
	}

	v.mu.Lock()
	_, revoked := v.revoked[parts[2]]
	v.mu.Unlock()
	if revoked {
		return Identity{}, ErrRevokedSession
	}
	return Identity{UID: string(uid), Verified: true}, nil
}

// Revoke invalidates a token until it would have expired anyway.
func (v *HMACVerifier) Revoke(ctx context.Context, token string) error {
	if _, err := v.VerifySession(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	parts := strings.Split(token, ".")
	expUnix, _ := strconv.ParseInt(parts[1], 10, 64)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[parts[2]] = time.Unix(expUnix, 0)
	return nil
}

// PruneRevoked drops revocations for tokens that have since expired.
func (v *HMACVerifier) PruneRevoked() int {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for sig, exp := range v.revoked {
		if !now.Before(exp) {
			delete(v.revoked, sig)
			n++
		}
	}
	return n
}
