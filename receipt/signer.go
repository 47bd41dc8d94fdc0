// Package receipt signs auction events so clients can prove what the house
// did on their behalf.
package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/events"
)

// KeyAlgorithm describes the receipt signing key.
const KeyAlgorithm = "ECDSA-P256"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("receipt: cbor enc mode: %v", err))
	}
}

// Signer produces COSE_Sign1 receipts over CBOR-encoded events.
type Signer struct {
	privateKey *ecdsa.PrivateKey // never leaves the process
	signer     cose.Signer
}

// NewSigner generates a fresh P-256 key.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate receipt key: %w", err)
	}
	return newSignerFromKey(key)
}

func newSignerFromKey(key *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	return &Signer{privateKey: key, signer: signer}, nil
}

// PublicKeyDER returns the verification key in PKIX DER form.
func (s *Signer) PublicKeyDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}

// PublicKeyPEM returns the verification key in PKIX PEM form.
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := s.PublicKeyDER()
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Fingerprint returns KeyFingerprint of the verification key.
func (s *Signer) Fingerprint() (string, error) {
	der, err := s.PublicKeyDER()
	if err != nil {
		return "", err
	}
	return KeyFingerprint(der), nil
}

// KeyFingerprint is the hex SHA-256 of a PKIX DER public key. Clients pin
// it; the key attestation carries it in its user data.
func KeyFingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ParsePublicKeyPEM decodes a PEM receipt key and returns it along with its
// PKIX DER bytes.
func ParsePublicKeyPEM(publicKeyPEM string) (*ecdsa.PublicKey, []byte, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, nil, fmt.Errorf("decode public key: no PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("public key is not ECDSA")
	}
	return pub, block.Bytes, nil
}

// Sign returns a tagged COSE_Sign1 message whose payload is ev in
// deterministic CBOR.
func (s *Signer) Sign(ev events.Event) ([]byte, error) {
	payload, err := encMode.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode receipt payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}

	data, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal receipt: %w", err)
	}
	return data, nil
}

// Verify checks a receipt against a PEM public key and returns the event it
// carries.
func Verify(publicKeyPEM string, receipt []byte) (events.Event, error) {
	var ev events.Event

	pub, _, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return ev, err
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(receipt); err != nil {
		return ev, fmt.Errorf("parse receipt: %w", err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil || alg != cose.AlgorithmES256 {
		return ev, fmt.Errorf("unexpected receipt algorithm")
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return ev, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return ev, fmt.Errorf("receipt signature verification failed: %w", err)
	}

	if err := cbor.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decode receipt payload: %w", err)
	}
	return ev, nil
}
