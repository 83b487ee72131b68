package servicetoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newPair(t *testing.T, kid string) (*Signer, *Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewSignerFromKey(key, kid, "analyzer", time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier(VerifierOptions{
		Keys:           map[string]*rsa.PublicKey{DefaultKeyID: &key.PublicKey},
		Audience:       "docs",
		AllowedIssuers: []string{"analyzer"},
		Leeway:         time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return signer, verifier, key
}

func TestSignerVerifierRS256(t *testing.T) {
	signer, verifier, _ := newPair(t, DefaultKeyID)
	token, err := signer.Sign("docs")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	caller, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if caller.Service != "analyzer" || caller.TokenID == "" {
		t.Fatalf("unexpected caller: %+v", caller)
	}
}

func TestSignerFromPEMFiles(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "svc")
	signer, err := NewSigner(SignerOptions{PrivateKeyPath: privatePath, Issuer: "analyzer"})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	keys, err := LoadPublicKeySet(DefaultKeyID, publicPath, "")
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	verifier, err := NewVerifier(VerifierOptions{Keys: keys, Audience: "docs", AllowedIssuers: []string{"analyzer"}})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, _ := signer.Sign("docs")
	if _, err := verifier.Verify(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignerRequiresPrivateKey(t *testing.T) {
	if _, err := NewSigner(SignerOptions{Issuer: "analyzer"}); err == nil {
		t.Fatalf("expected missing key path to fail")
	}
}

func TestVerifierRejectsWrongAudience(t *testing.T) {
	signer, verifier, _ := newPair(t, DefaultKeyID)
	token, _ := signer.Sign("indexer")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestVerifierRejectsUnknownKid(t *testing.T) {
	signer, verifier, _ := newPair(t, "kid-rotated")
	token, _ := signer.Sign("docs")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}
}

func TestVerifierRejectsForeignIssuer(t *testing.T) {
	_, verifier, key := newPair(t, DefaultKeyID)
	other, _ := NewSignerFromKey(key, DefaultKeyID, "gateway", time.Minute)
	token, _ := other.Sign("docs")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected issuer allowlist to reject")
	}
}

func TestVerifierRejectsFutureIssuedAt(t *testing.T) {
	_, verifier, key := newPair(t, DefaultKeyID)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    "analyzer",
		Subject:   "analyzer",
		Audience:  jwt.ClaimStrings{"docs"},
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
		NotBefore: jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		ID:        "jti-1",
	})
	token.Header["kid"] = DefaultKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := verifier.Verify(signed); err == nil {
		t.Fatalf("expected future iat token to fail")
	}
}

func TestParseVerifyPublicKeys(t *testing.T) {
	parsed, err := ParseVerifyPublicKeys("k1=/a.pem, k2=/b.pem")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 || parsed["k2"] != "/b.pem" {
		t.Fatalf("unexpected parsed map: %v", parsed)
	}
	if _, err := ParseVerifyPublicKeys("broken"); err == nil {
		t.Fatalf("expected error for entry without path")
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	token, ok := BearerToken(req)
	if !ok || token != "abc" {
		t.Fatalf("expected bearer token")
	}
	req.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(req); ok {
		t.Fatalf("basic auth is not a bearer token")
	}
}

func writeRSAKeyPairFiles(t *testing.T, prefix string) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public: %v", err)
	}
	return privatePath, publicPath
}
