package artifacts

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sandboxd/sandboxd/internal/apperr"
)

const defaultTokenTTLSeconds = 600

// TokenService issues and verifies short-lived signed tokens binding a
// bearer to one artifact id, grounded on
// original_source/langgraph_sandbox/artifacts/tokens.py. Unlike that
// reference (which regenerates a random secret on every call when
// ARTIFACTS_SECRET is unset — tokens it just signed would then fail its own
// verification moments later), this implementation resolves the fallback
// secret once at construction and caches it for the process lifetime, per
// spec.md §4.4/§9.
type TokenService struct {
	secret    []byte
	ttl       time.Duration
	publicURL string // e.g. "https://host:port"; empty selects localhost:port
	port      int
}

// NewTokenService builds a token service. secret may be empty, in which
// case a random 32-byte secret is generated once and cached for the process
// lifetime (tokens will not verify across a restart).
func NewTokenService(secret string, ttlSeconds int, publicBaseURL string, port int) (*TokenService, error) {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, apperr.Wrapf(apperr.KindDBError, err, "generate token secret")
		}
	}
	if ttlSeconds <= 0 {
		ttlSeconds = defaultTokenTTLSeconds
	}
	return &TokenService{secret: key, ttl: time.Duration(ttlSeconds) * time.Second, publicURL: publicBaseURL, port: port}, nil
}

// VerifiedClaims is the decoded, verified content of a token.
type VerifiedClaims struct {
	ArtifactID string
	ExpiresAt  int64
}

// CreateToken issues a token for artifactID. If artifactID contains a ".",
// the token's verify-time last-dot split between id and expiry would be
// ambiguous, so generation-time ids must never contain one (enforced by
// newArtifactID, not here — this function trusts its caller).
func (t *TokenService) CreateToken(artifactID string, now time.Time) string {
	exp := now.Add(t.ttl).Unix()
	msg := fmt.Sprintf("%s.%d", artifactID, exp)
	sig := t.sign([]byte(msg))
	return b64url(msg) + "." + b64url(string(sig))
}

// VerifyToken validates a token's signature and expiry and returns the
// bound artifact id and expiry. Failures map to apperr Kinds InvalidFormat,
// InvalidSignature, and Expired.
func (t *TokenService) VerifyToken(token string, now time.Time) (VerifiedClaims, error) {
	msgB64, sigB64, ok := splitFirstDot(token)
	if !ok {
		return VerifiedClaims{}, apperr.New(apperr.KindInvalidFormat, "token missing separator")
	}

	msg, err := b64urlDecode(msgB64)
	if err != nil {
		return VerifiedClaims{}, apperr.Wrapf(apperr.KindInvalidFormat, err, "decode message")
	}
	sig, err := b64urlDecode(sigB64)
	if err != nil {
		return VerifiedClaims{}, apperr.Wrapf(apperr.KindInvalidFormat, err, "decode signature")
	}

	expected := t.sign(msg)
	if !hmac.Equal(sig, expected) {
		return VerifiedClaims{}, apperr.New(apperr.KindInvalidSignature, "signature mismatch")
	}

	artifactID, expStr, ok := splitLastDot(string(msg))
	if !ok {
		return VerifiedClaims{}, apperr.New(apperr.KindInvalidFormat, "message missing expiry")
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return VerifiedClaims{}, apperr.Wrapf(apperr.KindInvalidFormat, err, "parse expiry")
	}
	if now.Unix() >= exp {
		return VerifiedClaims{}, apperr.New(apperr.KindExpired, "token expired")
	}

	return VerifiedClaims{ArtifactID: artifactID, ExpiresAt: exp}, nil
}

// CreateDownloadURL builds the public download URL for artifactID, using
// the configured public base URL or falling back to localhost:port.
func (t *TokenService) CreateDownloadURL(artifactID string) (string, error) {
	base := t.publicURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", t.port)
	}
	token := t.CreateToken(artifactID, time.Now())
	return fmt.Sprintf("%s/artifacts/%s?token=%s", base, artifactID, token), nil
}

func (t *TokenService) sign(msg []byte) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write(msg)
	return mac.Sum(nil)
}

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// splitFirstDot splits a token on its first "." into (message_b64, sig_b64).
func splitFirstDot(s string) (string, string, bool) {
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// splitLastDot splits a decoded message on its last "." into (artifact_id,
// expiry), per spec.md §4.4's explicit last-dot requirement.
func splitLastDot(s string) (string, string, bool) {
	idx := strings.LastIndexByte(s, '.')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
