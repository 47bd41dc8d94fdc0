package validation

import "time"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// KeyValidationResult contains validation results specific to receipt key attestations
type KeyValidationResult struct {
	BaseValidationResult
	KeyFingerprint string // of the key the caller was handed
	PublicKeyMatch bool   // user data names the same key and fingerprint
	KeyBound       bool   // the document's public_key is that key
	AlgorithmValid bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.PublicKeyMatch && r.KeyBound && r.AlgorithmValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // escrowhouse commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}

// PCRs holds the hex-encoded Platform Configuration Registers of a Nitro enclave
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded form of a Nitro attestation document
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"` // base64 DER
	CABundle        []string  `json:"cabundle"`    // base64 DER, root first
	PublicKey       string    `json:"public_key"`  // base64 PKIX DER
	Nonce           string    `json:"nonce"`
}
