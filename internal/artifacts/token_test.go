package artifacts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/artifacts"
)

func TestToken_RoundTrips(t *testing.T) {
	svc, err := artifacts.NewTokenService("test-secret", 600, "", 8000)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok := svc.CreateToken("art_abc123", now)

	claims, err := svc.VerifyToken(tok, now.Add(1*time.Second))
	require.NoError(t, err)
	require.Equal(t, "art_abc123", claims.ArtifactID)
}

func TestToken_ExpiresAtOrAfterExpiry(t *testing.T) {
	svc, err := artifacts.NewTokenService("test-secret", 10, "", 8000)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok := svc.CreateToken("art_abc123", now)

	_, err = svc.VerifyToken(tok, now.Add(10*time.Second))
	require.Error(t, err)
}

func TestToken_BitFlipInSignatureFails(t *testing.T) {
	svc, err := artifacts.NewTokenService("test-secret", 600, "", 8000)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok := svc.CreateToken("art_abc123", now)

	flipped := []byte(tok)
	flipped[len(flipped)-1] ^= 0x01
	_, err = svc.VerifyToken(string(flipped), now)
	require.Error(t, err)
}

func TestToken_BitFlipInBodyFails(t *testing.T) {
	svc, err := artifacts.NewTokenService("test-secret", 600, "", 8000)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok := svc.CreateToken("art_abc123", now)

	flipped := []byte(tok)
	flipped[0] ^= 0x01
	_, err = svc.VerifyToken(string(flipped), now)
	require.Error(t, err)
}

func TestToken_MalformedRejected(t *testing.T) {
	svc, err := artifacts.NewTokenService("test-secret", 600, "", 8000)
	require.NoError(t, err)

	_, err = svc.VerifyToken("not-a-token", time.Now())
	require.Error(t, err)
}

func TestToken_SecretCachedAcrossCalls(t *testing.T) {
	svc, err := artifacts.NewTokenService("", 600, "", 8000)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok1 := svc.CreateToken("art_a", now)
	tok2 := svc.CreateToken("art_b", now)

	_, err = svc.VerifyToken(tok1, now)
	require.NoError(t, err)
	_, err = svc.VerifyToken(tok2, now)
	require.NoError(t, err)
}
