package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mnajarc/sistemaInm-sub001/internal/actortoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/servicetoken"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeKeyPair(t *testing.T, dir string) (*rsa.PrivateKey, string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return key, privPath, pubPath
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.HasPrefix(out, "docsctl version ") {
		t.Fatalf("version = %q, %v", out, err)
	}
}

func TestCatalogListsBuiltInTypes(t *testing.T) {
	out, err := execute(t, "catalog")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if !strings.Contains(out, "official_id") || !strings.Contains(out, "3650d") {
		t.Fatalf("catalog output:\n%s", out)
	}
}

func TestTokenRoundTrips(t *testing.T) {
	key, privPath, _ := writeKeyPair(t, t.TempDir())
	out, err := execute(t, "token", "seller-7", "--key", privPath, "--role", "cliente", "--issuer", "identity")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	resolver, err := actortoken.NewResolver(map[string]*rsa.PublicKey{servicetoken.DefaultKeyID: &key.PublicKey}, "identity", "")
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	actor, err := resolver.Resolve(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.ID != "seller-7" || actor.Role != domain.RoleClient {
		t.Fatalf("actor = %+v", actor)
	}

	if _, err := execute(t, "token", "x", "--key", privPath, "--role", "wizard"); err == nil {
		t.Fatalf("unknown role accepted")
	}
}

func TestSweepAgainstMemoryStore(t *testing.T) {
	dir := t.TempDir()
	_, _, pubPath := writeKeyPair(t, dir)
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "port: \"8090\"\nstoreDriver: memory\nactorJwtPublicKeyPath: " + pubPath +
		"\nactorJwtIssuer: identity\ninternalJwtPublicKeyPath: " + pubPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := execute(t, "sweep", "--config", cfgPath, "--date", "2026-05-01")
	if err != nil {
		t.Fatalf("sweep: %v\n%s", err, out)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res["scanned"].(float64) != 0 {
		t.Fatalf("sweep result = %v", res)
	}

	if _, err := execute(t, "audit", "tx-missing", "--config", cfgPath); err == nil {
		t.Fatalf("audit of a missing transaction succeeded")
	}
	if _, err := execute(t, "sweep", "--config", cfgPath, "--date", "May 1"); err == nil {
		t.Fatalf("bad date accepted")
	}
}
