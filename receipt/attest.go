package receipt

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
)

// EnclaveAttester produces Nitro attestation documents.
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// KeyAttestationUserData is embedded in the attestation document that vouches
// for the receipt key.
type KeyAttestationUserData struct {
	KeyAlgorithm   string `json:"key_algorithm"`
	PublicKey      string `json:"public_key"` // PEM
	KeyFingerprint string `json:"key_fingerprint"`
}

// GetEnclaveAttester returns the NSM handle, or an error outside an enclave.
func GetEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// AttestKey returns a COSE-signed attestation document binding the signer's
// public key to the running enclave image. The key travels twice: as the
// document's public_key (DER) and inside the user data with its fingerprint.
func AttestKey(attester EnclaveAttester, s *Signer) ([]byte, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	der, err := s.PublicKeyDER()
	if err != nil {
		return nil, err
	}
	publicKeyPEM, err := s.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	userData, err := json.Marshal(&KeyAttestationUserData{
		KeyAlgorithm:   KeyAlgorithm,
		PublicKey:      publicKeyPEM,
		KeyFingerprint: KeyFingerprint(der),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	doc, err := attester.Attest(enclave.AttestationOptions{
		UserData:  userData,
		Nonce:     []byte(nonce),
		PublicKey: &s.privateKey.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}
	return doc, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(b), nil
}
