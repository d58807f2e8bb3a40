package practitest

// This file contains the certificate trust policy used by the transport:
// a CA bundle backed root pool plus a verification step that tolerates
// unavailable revocation information but nothing else.

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultCABundlePath is used when no CA bundle is configured.
	DefaultCABundlePath = "/etc/ssl/cert.pem"
	// CABundleEnvKey overrides the CA bundle location.
	CABundleEnvKey = "SSL_CERT_FILE"

	crlFetchTimeout = 10 * time.Second
	maxCRLSize      = 16 << 20
)

// VerifyCode classifies the outcome of a certificate verification step.
type VerifyCode int

const (
	VerifyOK VerifyCode = iota
	// VerifyUnableToGetCRL means revocation status could not be fetched.
	VerifyUnableToGetCRL
	VerifyUnknownAuthority
	VerifyExpired
	VerifyHostnameMismatch
	VerifyRevoked
	VerifyInvalid
)

func (c VerifyCode) String() string {
	switch c {
	case VerifyOK:
		return "ok"
	case VerifyUnableToGetCRL:
		return "unable to get CRL"
	case VerifyUnknownAuthority:
		return "unknown authority"
	case VerifyExpired:
		return "certificate expired"
	case VerifyHostnameMismatch:
		return "hostname mismatch"
	case VerifyRevoked:
		return "certificate revoked"
	default:
		return "invalid certificate"
	}
}

// AllowVerification decides whether a handshake may proceed given the result
// of a verification step. A failed step is only tolerated when its sole
// defect is that revocation status was unavailable.
func AllowVerification(ok bool, code VerifyCode) bool {
	if ok {
		return true
	}
	return code == VerifyUnableToGetCRL
}

// TrustPolicy configures how the server certificate is verified.
type TrustPolicy struct {
	// CABundlePath is a PEM file with the trusted roots. Empty means
	// DefaultCABundlePath.
	CABundlePath string
	// CheckRevocation enables fetching the CRL distribution points of the
	// server certificate.
	CheckRevocation bool
}

// LoadCertPool reads a PEM bundle into a certificate pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", path)
	}

	return pool, nil
}

// rootPool resolves the trust store. The default bundle location does not
// exist on every distribution, so a missing default falls back to the system
// pool; an explicitly configured bundle must exist.
func (p TrustPolicy) rootPool() (*x509.CertPool, error) {
	path := p.CABundlePath
	if path == "" {
		path = DefaultCABundlePath
	}

	if path == DefaultCABundlePath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			pool, err := x509.SystemCertPool()
			if err != nil {
				return nil, fmt.Errorf("failed to load system cert pool: %w", err)
			}
			return pool, nil
		}
	}

	return LoadCertPool(path)
}

// TLSConfig builds the client TLS configuration for serverName.
func (p TrustPolicy) TLSConfig(serverName string) (*tls.Config, error) {
	roots, err := p.rootPool()
	if err != nil {
		return nil, err
	}

	v := &certVerifier{
		roots:           roots,
		serverName:      serverName,
		checkRevocation: p.CheckRevocation,
		crlClient:       &http.Client{Timeout: crlFetchTimeout},
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
		// The default verification is replaced, not skipped: VerifyConnection
		// runs the full chain and hostname check.
		InsecureSkipVerify: true, //nolint:gosec
		VerifyConnection:   v.verifyConnection,
	}, nil
}

type certVerifier struct {
	roots           *x509.CertPool
	serverName      string
	checkRevocation bool
	crlClient       *http.Client
	currentTime     time.Time
}

func (v *certVerifier) verifyConnection(cs tls.ConnectionState) error {
	ok, code, chain, err := v.verifyChain(cs.PeerCertificates)
	if ok && v.checkRevocation {
		ok, code, err = v.verifyRevocation(chain)
	}

	if !AllowVerification(ok, code) {
		return &VerificationError{Code: code, Err: err}
	}

	return nil
}

func (v *certVerifier) verifyChain(certs []*x509.Certificate) (bool, VerifyCode, []*x509.Certificate, error) {
	if len(certs) == 0 {
		return false, VerifyInvalid, nil, errors.New("server presented no certificate")
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	chains, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		DNSName:       v.serverName,
		CurrentTime:   v.currentTime,
	})
	if err != nil {
		return false, classifyVerifyError(err), nil, err
	}

	return true, VerifyOK, chains[0], nil
}

// verifyRevocation checks the leaf of chain against its CRL distribution
// points. A revoked serial is reported immediately; fetch failures are only
// reported once no point proved the certificate revoked.
func (v *certVerifier) verifyRevocation(chain []*x509.Certificate) (bool, VerifyCode, error) {
	leaf := chain[0]
	issuer := leaf
	if len(chain) > 1 {
		issuer = chain[1]
	}

	var unavailable error

	for _, url := range leaf.CRLDistributionPoints {
		crl, err := v.fetchCRL(url)
		if err != nil {
			unavailable = err
			continue
		}

		if err := crl.CheckSignatureFrom(issuer); err != nil {
			return false, VerifyInvalid, fmt.Errorf("CRL %s: %w", url, err)
		}

		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(leaf.SerialNumber) == 0 {
				return false, VerifyRevoked, fmt.Errorf("serial %s listed in CRL %s", leaf.SerialNumber, url)
			}
		}
	}

	if unavailable != nil {
		return false, VerifyUnableToGetCRL, unavailable
	}

	return true, VerifyOK, nil
}

func (v *certVerifier) fetchCRL(url string) (*x509.RevocationList, error) {
	resp, err := v.crlClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch CRL %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch CRL %s (status %d)", url, resp.StatusCode)
	}

	der, err := io.ReadAll(io.LimitReader(resp.Body, maxCRLSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read CRL %s: %w", url, err)
	}

	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL %s: %w", url, err)
	}

	return crl, nil
}

func classifyVerifyError(err error) VerifyCode {
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError

	switch {
	case errors.As(err, &unknownAuthority):
		return VerifyUnknownAuthority
	case errors.As(err, &hostname):
		return VerifyHostnameMismatch
	case errors.As(err, &invalid):
		if invalid.Reason == x509.Expired {
			return VerifyExpired
		}
		return VerifyInvalid
	default:
		return VerifyInvalid
	}
}
