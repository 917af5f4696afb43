// Package security builds the *tls.Config used for both the MQTT broker
// connection and the HTTPS file-transfer client, following the same
// three-way certificate-validation policy in both places: disabled,
// default trust store, or an explicit CA bundle file.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Policy selects how the peer certificate is validated.
type Policy string

const (
	// PolicyDisabled performs no certificate validation and no hostname
	// check.
	PolicyDisabled Policy = "disabled"
	// PolicyDefaultTrust validates against the platform's trust store.
	PolicyDefaultTrust Policy = "default"
	// PolicyBundle validates against an explicit CA bundle file.
	PolicyBundle Policy = "bundle"
)

// ErrBundleRequired is returned when PolicyBundle is selected without a
// bundle path.
var ErrBundleRequired = errors.New("security: ca bundle file not set")

// Config builds a *tls.Config for policy. For PolicyBundle, caBundleFile
// must name a readable PEM file; a missing file surfaces the wrapped
// os.ErrNotExist so callers can translate it to status.NotFound exactly
// as connect() does for a missing certificate bundle.
func Config(policy Policy, caBundleFile string) (*tls.Config, error) {
	switch policy {
	case PolicyDisabled:
		// TLS 1.2 minimum; no verification, no hostname check.
		return &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // #nosec G402 -- explicit operator opt-out
		}, nil

	case PolicyDefaultTrust:
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil

	case PolicyBundle:
		if caBundleFile == "" {
			return nil, ErrBundleRequired
		}
		data, err := os.ReadFile(caBundleFile) // #nosec G304 -- caller-controlled config path
		if err != nil {
			return nil, fmt.Errorf("security: ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("security: failed to parse ca bundle %s", caBundleFile)
		}
		return &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    pool,
		}, nil

	default:
		return nil, fmt.Errorf("security: unknown tls policy %q", policy)
	}
}
