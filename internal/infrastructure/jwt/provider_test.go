package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/liftops-portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeys(t *testing.T) (privPath, pubPath string, key *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath = filepath.Join(dir, "private.pem")
	pubPath = filepath.Join(dir, "public.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))
	return privPath, pubPath, key
}

func TestProvider_SignVerifyRoundTrip(t *testing.T) {
	priv, pub, _ := writeKeys(t)
	p, err := NewProvider(&config.Config{JWTPrivateKeyPath: priv, JWTPublicKeyPath: pub, JWTExpiry: time.Hour})
	require.NoError(t, err)

	tok, err := p.Sign("tech-7", "technician")
	require.NoError(t, err)
	claims, err := p.Verify(tok)

	require.NoError(t, err)
	assert.Equal(t, "tech-7", claims.UserID)
	assert.Equal(t, "technician", claims.Role)
}

func TestProvider_VerifyOnly(t *testing.T) {
	_, pub, key := writeKeys(t)
	p, err := NewProvider(&config.Config{JWTPublicKeyPath: pub, JWTExpiry: time.Hour})
	require.NoError(t, err)

	_, err = p.Sign("u1", "")
	assert.ErrorIs(t, err, ErrSigningDisabled)

	// Tokens from the identity service may only carry "sub".
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(key)
	require.NoError(t, err)
	claims, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestProvider_RejectsExpiredAndForeignTokens(t *testing.T) {
	priv, pub, _ := writeKeys(t)
	p, err := NewProvider(&config.Config{JWTPrivateKeyPath: priv, JWTPublicKeyPath: pub, JWTExpiry: -time.Minute})
	require.NoError(t, err)

	expired, err := p.Sign("u1", "")
	require.NoError(t, err)
	_, err = p.Verify(expired)
	assert.Error(t, err)

	_, _, other := writeKeys(t)
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{UserID: "u1"}).SignedString(other)
	require.NoError(t, err)
	_, err = p.Verify(foreign)
	assert.Error(t, err)
}

func TestProvider_RejectsTokenWithoutPrincipal(t *testing.T) {
	priv, pub, _ := writeKeys(t)
	p, err := NewProvider(&config.Config{JWTPrivateKeyPath: priv, JWTPublicKeyPath: pub, JWTExpiry: time.Hour})
	require.NoError(t, err)

	tok, err := p.Sign("", "admin")
	require.NoError(t, err)
	_, err = p.Verify(tok)
	assert.Error(t, err)
}

func TestNewProvider_MissingKey(t *testing.T) {
	_, err := NewProvider(&config.Config{JWTPublicKeyPath: filepath.Join(t.TempDir(), "nope.pem")})
	assert.Error(t, err)
}
