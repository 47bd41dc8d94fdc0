package validation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/escrowhouse/receipt"
)

// ValidateKeyAttestation checks that expectedPublicKey, the PEM key served
// by GET /receipt-key, was attested by an enclave running one of knownPCRs.
//
// The key must appear twice in the signed document: as its public_key and
// in the user data together with its fingerprint. The result carries the
// fingerprint so callers can pin it.
//
// An error means validation could not run at all; otherwise inspect the
// result and call IsValid.
func ValidateKeyAttestation(attestationB64, expectedPublicKey string, knownPCRs []PCRSet) (*KeyValidationResult, error) {
	if attestationB64 == "" {
		return nil, fmt.Errorf("key attestation missing: the key was served outside an enclave")
	}
	if len(knownPCRs) == 0 {
		return nil, fmt.Errorf("no known PCR sets configured")
	}
	coseBytes, err := base64.StdEncoding.DecodeString(attestationB64)
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}
	_, expectedDER, err := receipt.ParsePublicKeyPEM(expectedPublicKey)
	if err != nil {
		return nil, fmt.Errorf("expected key: %w", err)
	}
	ev, err := decodeEvidence(coseBytes)
	if err != nil {
		return nil, err
	}
	var userData receipt.KeyAttestationUserData
	if len(ev.doc.UserData) > 0 {
		if err := json.Unmarshal(ev.doc.UserData, &userData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	result := &KeyValidationResult{
		BaseValidationResult: ev.check(knownPCRs),
		KeyFingerprint:       receipt.KeyFingerprint(expectedDER),
	}
	note := func(format string, args ...any) {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf(format, args...))
	}
	note("Key fingerprint: %s", result.KeyFingerprint)

	if userData.KeyAlgorithm == receipt.KeyAlgorithm {
		result.AlgorithmValid = true
		note("Key algorithm: %s", userData.KeyAlgorithm)
	} else {
		note("Unexpected key algorithm: %q", userData.KeyAlgorithm)
	}

	if bytes.Equal(ev.doc.PublicKey, expectedDER) {
		result.KeyBound = true
		note("Document public_key is the receipt key")
	} else {
		note("Document public_key does not match the receipt key")
	}

	switch attested, err := userDataKey(userData); {
	case err != nil:
		note("User data key unusable: %v", err)
	case !bytes.Equal(attested, expectedDER):
		note("Public key mismatch: provided key does not match attested key")
	case userData.KeyFingerprint != result.KeyFingerprint:
		note("Attested fingerprint %q does not match the key", userData.KeyFingerprint)
	default:
		result.PublicKeyMatch = true
		note("Public key and fingerprint match attestation")
	}

	return result, nil
}

func userDataKey(userData receipt.KeyAttestationUserData) ([]byte, error) {
	if userData.PublicKey == "" {
		return nil, fmt.Errorf("public key missing from attestation")
	}
	_, der, err := receipt.ParsePublicKeyPEM(userData.PublicKey)
	return der, err
}
