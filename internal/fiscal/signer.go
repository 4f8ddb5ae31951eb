package fiscal

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

// One hash scheme for the whole system: SHA-256, base64 (std) encoding, for
// both receipt and fiscal day hashes. The signature is ECDSA P-256 over the
// SHA-256 digest of the base64 hash string, DER-encoded, base64.

// Signature is a (hash, signature) pair produced for a canonical string.
type Signature struct {
	Hash      string
	Signature string
}

// Hash returns the base64 SHA-256 digest of a canonical string.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sign hashes the canonical string and signs the hash with the device key.
func Sign(canonical string, key *ecdsa.PrivateKey) (Signature, error) {
	if key == nil {
		return Signature{}, &StructuralError{Field: "signingKey", Reason: "missing"}
	}
	hash := Hash(canonical)
	digest := sha256.Sum256([]byte(hash))
	der, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	return Signature{
		Hash:      hash,
		Signature: base64.StdEncoding.EncodeToString(der),
	}, nil
}

// VerifyReceipt re-derives the canonical encoding and hash from the
// receipt's stored fields and checks them against the stored hash and
// signature. Any mismatch is a ChainIntegrityError.
func VerifyReceipt(dev *model.Device, r *model.Receipt) error {
	canonical, err := EncodeReceipt(dev, r)
	if err != nil {
		return err
	}
	if Hash(canonical) != r.Hash {
		return &ChainIntegrityError{GlobalNo: r.GlobalNo, Reason: "stored hash does not match canonical encoding"}
	}

	if dev.Certificate == nil {
		return &ChainIntegrityError{GlobalNo: r.GlobalNo, Reason: "device has no certificate"}
	}
	pub, err := publicKeyFromCertPEM(*dev.Certificate)
	if err != nil {
		return &ChainIntegrityError{GlobalNo: r.GlobalNo, Reason: "certificate unusable: " + err.Error()}
	}

	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return &ChainIntegrityError{GlobalNo: r.GlobalNo, Reason: "signature is not valid base64"}
	}
	digest := sha256.Sum256([]byte(r.Hash))
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return &ChainIntegrityError{GlobalNo: r.GlobalNo, Reason: "signature does not verify against device certificate"}
	}
	return nil
}

// ParsePrivateKey decodes a PKCS#8 PEM block into the device's ECDSA key.
func ParsePrivateKey(pemStr string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no PEM block in device key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse device key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("device key is not ECDSA")
	}
	return key, nil
}

func publicKeyFromCertPEM(certPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not ECDSA")
	}
	return pub, nil
}
