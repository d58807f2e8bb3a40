package practitest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		Subject:               pkix.Name{Organization: []string{"Use in test only!"}, CommonName: "Test CA"},
		SerialNumber:          randomSerial(t),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{cert: cert, key: key}
}

type leafOptions struct {
	dnsNames []string
	ips      []net.IP
	notAfter time.Time
	crlURLs  []string
}

func (ca *testCA) issue(t *testing.T, opts leafOptions) (*x509.Certificate, tls.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	notAfter := opts.notAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(2 * time.Hour)
	}

	tmpl := &x509.Certificate{
		Subject:               pkix.Name{Organization: []string{"Use in test only!"}, CommonName: "server"},
		DNSNames:              opts.dnsNames,
		IPAddresses:           opts.ips,
		SerialNumber:          randomSerial(t),
		NotBefore:             time.Now().Add(-2 * time.Hour),
		NotAfter:              notAfter,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature,
		CRLDistributionPoints: opts.crlURLs,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, key.Public(), ca.key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert, tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

func (ca *testCA) pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return pool
}

func (ca *testCA) writeBundle(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func (ca *testCA) crl(t *testing.T, revoked ...*big.Int) []byte {
	t.Helper()

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, serial := range revoked {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: serial, RevocationTime: time.Now().Add(-time.Minute)})
	}

	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Hour),
		NextUpdate:                time.Now().Add(time.Hour),
		RevokedCertificateEntries: entries,
	}, ca.cert, ca.key)
	require.NoError(t, err)
	return der
}

func randomSerial(t *testing.T) *big.Int {
	t.Helper()

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	require.NoError(t, err)
	return serial
}

func TestAllowVerification(t *testing.T) {
	tests := []struct {
		ok   bool
		code VerifyCode
		want bool
	}{
		{ok: true, code: VerifyOK, want: true},
		{ok: true, code: VerifyUnableToGetCRL, want: true},
		{ok: false, code: VerifyUnableToGetCRL, want: true},
		{ok: false, code: VerifyUnknownAuthority, want: false},
		{ok: false, code: VerifyExpired, want: false},
		{ok: false, code: VerifyHostnameMismatch, want: false},
		{ok: false, code: VerifyRevoked, want: false},
		{ok: false, code: VerifyInvalid, want: false},
		{ok: false, code: VerifyOK, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, AllowVerification(tt.ok, tt.code))
		})
	}
}

func TestCertVerifier(t *testing.T) {
	ca := newTestCA(t)
	otherCA := newTestCA(t)
	const host = "api.practitest.example"

	revokedLeaf, _ := ca.issue(t, leafOptions{dnsNames: []string{host}})

	tests := []struct {
		name            string
		roots           *x509.CertPool
		leaf            leafOptions
		checkRevocation bool
		crl             func(leaf *x509.Certificate) []byte
		wantCode        VerifyCode
		wantAllowed     bool
	}{
		{
			name:        "trusted",
			roots:       ca.pool(),
			leaf:        leafOptions{dnsNames: []string{host}},
			wantAllowed: true,
		},
		{
			name:     "untrusted root",
			roots:    otherCA.pool(),
			leaf:     leafOptions{dnsNames: []string{host}},
			wantCode: VerifyUnknownAuthority,
		},
		{
			name:     "expired",
			roots:    ca.pool(),
			leaf:     leafOptions{dnsNames: []string{host}, notAfter: time.Now().Add(-time.Hour)},
			wantCode: VerifyExpired,
		},
		{
			name:     "hostname mismatch",
			roots:    ca.pool(),
			leaf:     leafOptions{dnsNames: []string{"other.example"}},
			wantCode: VerifyHostnameMismatch,
		},
		{
			name:            "unreachable CRL is tolerated",
			roots:           ca.pool(),
			leaf:            leafOptions{dnsNames: []string{host}, crlURLs: []string{"http://127.0.0.1:1/ca.crl"}},
			checkRevocation: true,
			wantAllowed:     true,
		},
		{
			name:            "unreachable CRL does not mask expiry",
			roots:           ca.pool(),
			leaf:            leafOptions{dnsNames: []string{host}, notAfter: time.Now().Add(-time.Hour), crlURLs: []string{"http://127.0.0.1:1/ca.crl"}},
			checkRevocation: true,
			wantCode:        VerifyExpired,
		},
		{
			name:            "clean CRL",
			roots:           ca.pool(),
			checkRevocation: true,
			crl: func(*x509.Certificate) []byte {
				return ca.crl(t, revokedLeaf.SerialNumber)
			},
			wantAllowed: true,
		},
		{
			name:            "revoked",
			roots:           ca.pool(),
			checkRevocation: true,
			crl: func(leaf *x509.Certificate) []byte {
				return ca.crl(t, leaf.SerialNumber)
			},
			wantCode: VerifyRevoked,
		},
		{
			name:            "CRL signed by other CA",
			roots:           ca.pool(),
			checkRevocation: true,
			crl: func(*x509.Certificate) []byte {
				return otherCA.crl(t)
			},
			wantCode: VerifyInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.leaf
			var crlDER []byte
			if tt.crl != nil {
				// The serial is only known after issuing, so the CRL is served
				// lazily from a fixed URL.
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					_, _ = w.Write(crlDER)
				}))
				t.Cleanup(srv.Close)
				opts = leafOptions{dnsNames: []string{host}, crlURLs: []string{srv.URL + "/ca.crl"}}
			}

			leaf, _ := ca.issue(t, opts)
			if tt.crl != nil {
				crlDER = tt.crl(leaf)
			}

			v := &certVerifier{
				roots:           tt.roots,
				serverName:      host,
				checkRevocation: tt.checkRevocation,
				crlClient:       &http.Client{Timeout: 5 * time.Second},
			}

			err := v.verifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}})
			if tt.wantAllowed {
				require.NoError(t, err)
				return
			}

			var verr *VerificationError
			require.True(t, errors.As(err, &verr), "expected VerificationError, got %v", err)
			assert.Equal(t, tt.wantCode, verr.Code)
		})
	}
}

func TestCertVerifierNoCertificate(t *testing.T) {
	v := &certVerifier{roots: x509.NewCertPool(), serverName: "x.example"}

	err := v.verifyConnection(tls.ConnectionState{})
	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, VerifyInvalid, verr.Code)
}

func TestTrustPolicyRootPool(t *testing.T) {
	t.Run("explicit bundle", func(t *testing.T) {
		ca := newTestCA(t)
		pool, err := TrustPolicy{CABundlePath: ca.writeBundle(t)}.rootPool()
		require.NoError(t, err)
		assert.True(t, pool.Equal(ca.pool()))
	})

	t.Run("missing explicit bundle", func(t *testing.T) {
		_, err := TrustPolicy{CABundlePath: filepath.Join(t.TempDir(), "nope.pem")}.rootPool()
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bundle without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate\n"), 0o600))

		_, err := TrustPolicy{CABundlePath: path}.rootPool()
		require.ErrorContains(t, err, "no certificates found")
	})
}

func TestHTTPTransportTLS(t *testing.T) {
	ca := newTestCA(t)
	_, serverCert := ca.issue(t, leafOptions{ips: []net.IP{net.ParseIP("127.0.0.1")}})

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{serverCert}}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	creds := Credentials{BaseURL: srv.URL, ProjectID: 1, APIToken: "t", DeveloperEmail: "e"}

	t.Run("trusted bundle", func(t *testing.T) {
		transport, err := NewHTTPTransport(zerolog.Nop(), creds, TrustPolicy{CABundlePath: ca.writeBundle(t)}, nil)
		require.NoError(t, err)

		body, err := transport.Execute(context.Background(), http.MethodGet, "/api/v2/projects/1/tests.json", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":[]}`, string(body))
	})

	t.Run("untrusted bundle", func(t *testing.T) {
		transport, err := NewHTTPTransport(zerolog.Nop(), creds, TrustPolicy{CABundlePath: newTestCA(t).writeBundle(t)}, nil)
		require.NoError(t, err)

		_, err = transport.Execute(context.Background(), http.MethodGet, "/api/v2/projects/1/tests.json", nil)
		var verr *VerificationError
		require.True(t, errors.As(err, &verr), "expected VerificationError, got %v", err)
		assert.Equal(t, VerifyUnknownAuthority, verr.Code)
	})
}
