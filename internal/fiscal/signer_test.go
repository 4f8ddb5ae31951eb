package fiscal_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestKeyAndCert generates a device key plus a self-signed certificate,
// both PEM-encoded the way the registration flow stores them.
func newTestKeyAndCert(t *testing.T) (*ecdsa.PrivateKey, string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "FDMS-TEST-0000000321"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))

	return key, keyPEM, certPEM
}

func TestSignAndVerifyReceipt(t *testing.T) {
	key, _, certPEM := newTestKeyAndCert(t)

	dev := testDevice()
	dev.Certificate = &certPEM

	r := testReceipt()
	canonical, err := fiscal.EncodeReceipt(dev, r)
	require.NoError(t, err)

	sig, err := fiscal.Sign(canonical, key)
	require.NoError(t, err)
	assert.Equal(t, fiscal.Hash(canonical), sig.Hash)
	assert.NotEmpty(t, sig.Signature)

	r.Hash = sig.Hash
	r.Signature = sig.Signature
	require.NoError(t, fiscal.VerifyReceipt(dev, r))
}

func TestVerifyReceiptDetectsTampering(t *testing.T) {
	key, _, certPEM := newTestKeyAndCert(t)

	dev := testDevice()
	dev.Certificate = &certPEM

	r := testReceipt()
	canonical, err := fiscal.EncodeReceipt(dev, r)
	require.NoError(t, err)
	sig, err := fiscal.Sign(canonical, key)
	require.NoError(t, err)
	r.Hash = sig.Hash
	r.Signature = sig.Signature

	// Changing any signed field breaks the stored hash against the re-derived
	// canonical encoding.
	r.Total = dec("999.99")
	err = fiscal.VerifyReceipt(dev, r)
	var integrity *fiscal.ChainIntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestVerifyReceiptRejectsForeignSignature(t *testing.T) {
	_, _, certPEM := newTestKeyAndCert(t)
	otherKey, _, _ := newTestKeyAndCert(t)

	dev := testDevice()
	dev.Certificate = &certPEM

	r := testReceipt()
	canonical, err := fiscal.EncodeReceipt(dev, r)
	require.NoError(t, err)

	// Signed with a key the certificate does not vouch for.
	sig, err := fiscal.Sign(canonical, otherKey)
	require.NoError(t, err)
	r.Hash = sig.Hash
	r.Signature = sig.Signature

	err = fiscal.VerifyReceipt(dev, r)
	var integrity *fiscal.ChainIntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestParsePrivateKeyRoundTrip(t *testing.T) {
	key, keyPEM, _ := newTestKeyAndCert(t)

	parsed, err := fiscal.ParsePrivateKey(keyPEM)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = fiscal.ParsePrivateKey("not a key")
	assert.Error(t, err)
}

func TestSignRequiresKey(t *testing.T) {
	_, err := fiscal.Sign("payload", nil)
	var structural *fiscal.StructuralError
	require.ErrorAs(t, err, &structural)
}

func TestQRCodeDataFormat(t *testing.T) {
	dev := testDevice()
	r := testReceipt()
	r.Signature = "c2lnbmF0dXJl"

	got := fiscal.QRCodeData("https://fdms.example.test/verify", dev, r)
	assert.Regexp(t, `^https://fdms\.example\.test/verify/0000000321/12042026/0000000001/[0-9A-F]{16}$`, got)

	// Deterministic for the same signature.
	assert.Equal(t, got, fiscal.QRCodeData("https://fdms.example.test/verify", dev, r))
}
