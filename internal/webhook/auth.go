package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
)

// Signature header sent by ServiceNow outbound REST when HMAC signing is
// configured. Value is "sha256=<digest>" with the digest in hex or base64.
const signatureHeader = "X-Hub-Signature-256"

// Static-key fallbacks for instances that cannot sign payloads.
const (
	keyHeader     = "X-Webhook-Key"
	keyQueryParam = "key"
)

// AuthError reports a rejected request. The server maps it to 401.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Msg }

// Authenticator validates inbound webhook requests. With neither an HMAC
// secret nor a static key configured it accepts everything (dev mode).
// The HMAC secret is swappable at runtime for hot reload.
type Authenticator struct {
	mu        sync.RWMutex
	secret    []byte
	staticKey string
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(hmacSecret []byte, staticKey string) *Authenticator {
	return &Authenticator{secret: hmacSecret, staticKey: staticKey}
}

// SetSecret replaces the HMAC secret. Used by the secret-file watcher.
func (a *Authenticator) SetSecret(secret []byte) {
	a.mu.Lock()
	a.secret = secret
	a.mu.Unlock()
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.secret) > 0 || a.staticKey != ""
}

// Authenticate checks the request against the configured credentials. A
// signature header is always verified when present; otherwise the static key
// is accepted from header or query param.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) error {
	a.mu.RLock()
	secret := a.secret
	staticKey := a.staticKey
	a.mu.RUnlock()

	if len(secret) == 0 && staticKey == "" {
		return nil
	}

	if sig := r.Header.Get(signatureHeader); sig != "" {
		if len(secret) == 0 {
			return &AuthError{Msg: "signature sent but no signing secret configured"}
		}
		if !verifySignature(sig, body, secret) {
			return &AuthError{Msg: "signature mismatch"}
		}
		return nil
	}

	if staticKey != "" {
		provided := r.Header.Get(keyHeader)
		if provided == "" {
			provided = r.URL.Query().Get(keyQueryParam)
		}
		if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(staticKey)) == 1 {
			return nil
		}
	}

	return &AuthError{Msg: "missing or invalid credentials"}
}

// verifySignature checks an HMAC-SHA256 signature over the raw body. The
// digest may be hex or base64 encoded; both are compared in constant time.
func verifySignature(header string, body, secret []byte) bool {
	digest := strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(digest); err == nil {
		return hmac.Equal(decoded, expected)
	}
	if decoded, err := base64.StdEncoding.DecodeString(digest); err == nil {
		return hmac.Equal(decoded, expected)
	}
	return false
}
