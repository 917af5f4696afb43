package security

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeTestBundle writes a freshly generated self-signed CA certificate
// as a PEM bundle and returns its path.
func writeTestBundle(t *testing.T) string {
	t.Helper()

	key, err := newECDSAKey()
	if err != nil {
		t.Fatalf("CA key: %v", err)
	}
	cert, err := selfSignedCA(key)
	if err != nil {
		t.Fatalf("CA cert: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bundle.pem")
	f, err := os.Create(path) // #nosec G304 -- test temp file
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
		t.Fatalf("pem encode: %v", err)
	}
	return path
}

func TestConfigDisabledSkipsVerification(t *testing.T) {
	cfg, err := Config(PolicyDisabled, "")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true for disabled policy")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d, want TLS 1.2 (%d)", cfg.MinVersion, tls.VersionTLS12)
	}
}

func TestConfigDefaultTrustUsesPlatformRoots(t *testing.T) {
	cfg, err := Config(PolicyDefaultTrust, "")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = true, want false for default-trust policy")
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs should be nil to fall back to the platform trust store")
	}
}

func TestConfigBundleLoadsCAPool(t *testing.T) {
	bundle := writeTestBundle(t)

	cfg, err := Config(PolicyBundle, bundle)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs is nil, want the loaded bundle pool")
	}
}

func TestConfigBundleMissingPathIsErrBundleRequired(t *testing.T) {
	if _, err := Config(PolicyBundle, ""); !errors.Is(err, ErrBundleRequired) {
		t.Errorf("err = %v, want ErrBundleRequired", err)
	}
}

func TestConfigBundleMissingFileIsNotExist(t *testing.T) {
	_, err := Config(PolicyBundle, "/no/such/bundle.pem")
	if err == nil {
		t.Fatal("expected error for missing bundle file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want wrapped os.ErrNotExist", err)
	}
}
