package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// nitroRootPEM is the AWS Nitro Enclaves root (G1), self-signed P-384,
// valid until 2049-10-28. https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
const nitroRootPEM = `-----BEGIN CERTIFICATE-----
MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD
VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4
MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL
DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG
BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb
48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE
h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF
R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC
MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW
rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N
IwLz3/Y=
-----END CERTIFICATE-----`

// NitroAttestationDocument is the CBOR payload an enclave's NSM signs.
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"` // milliseconds since the epoch
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// evidence is a decoded attestation: the untagged COSE_Sign1 envelope the
// NSM emits and the document inside it.
type evidence struct {
	msg cose.UntaggedSign1Message
	doc NitroAttestationDocument
}

func decodeEvidence(coseBytes []byte) (*evidence, error) {
	ev := &evidence{}
	if err := ev.msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	if err := cbor.Unmarshal(ev.msg.Payload, &ev.doc); err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}
	return ev, nil
}

// ParseAttestationDoc decodes an untagged COSE_Sign1 attestation without
// verifying it and returns the document with its raw user data.
func ParseAttestationDoc(coseBytes []byte) (AttestationDoc, []byte, error) {
	ev, err := decodeEvidence(coseBytes)
	if err != nil {
		return AttestationDoc{}, nil, err
	}
	return ev.summary(), ev.doc.UserData, nil
}

func (ev *evidence) summary() AttestationDoc {
	doc := AttestationDoc{
		ModuleID:        ev.doc.ModuleID,
		Timestamp:       ev.issuedAt(),
		DigestAlgorithm: ev.doc.Digest,
		PCRs: PCRs{
			ImageFileHash:   hex.EncodeToString(ev.doc.PCRs[0]),
			KernelHash:      hex.EncodeToString(ev.doc.PCRs[1]),
			ApplicationHash: hex.EncodeToString(ev.doc.PCRs[2]),
			SigningCertHash: hex.EncodeToString(ev.doc.PCRs[8]),
		},
		CABundle: make([]string, len(ev.doc.CABundle)),
		Nonce:    string(ev.doc.Nonce),
	}
	for i, der := range ev.doc.CABundle {
		doc.CABundle[i] = base64.StdEncoding.EncodeToString(der)
	}
	if len(ev.doc.Certificate) > 0 {
		doc.Certificate = base64.StdEncoding.EncodeToString(ev.doc.Certificate)
	}
	if len(ev.doc.PublicKey) > 0 {
		doc.PublicKey = base64.StdEncoding.EncodeToString(ev.doc.PublicKey)
	}
	return doc
}

func (ev *evidence) issuedAt() time.Time {
	return time.UnixMilli(int64(ev.doc.Timestamp)).UTC()
}

// verifySignature checks the COSE signature against the leaf certificate the
// document carries.
func (ev *evidence) verifySignature() error {
	leaf, err := x509.ParseCertificate(ev.doc.Certificate)
	if err != nil {
		return fmt.Errorf("parse signing certificate: %w", err)
	}
	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("signing certificate key is not ECDSA")
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES384, key)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	return ev.msg.Verify(nil, verifier)
}

// verifyChain checks the leaf chains to the Nitro root through the bundled
// intermediates. Leaf certificates live for hours, so the chain is evaluated
// at the document's own timestamp.
func (ev *evidence) verifyChain() error {
	switch {
	case len(ev.doc.Certificate) == 0:
		return fmt.Errorf("missing certificate")
	case len(ev.doc.CABundle) == 0:
		return fmt.Errorf("missing CA bundle")
	}
	leaf, err := x509.ParseCertificate(ev.doc.Certificate)
	if err != nil {
		return fmt.Errorf("parse signing certificate: %w", err)
	}
	intermediates := x509.NewCertPool()
	for _, der := range ev.doc.CABundle {
		ca, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("parse CA certificate: %w", err)
		}
		intermediates.AddCert(ca)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(nitroRootPEM)) {
		return fmt.Errorf("load Nitro root certificate")
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		CurrentTime:   ev.issuedAt(),
	})
	return err
}

// check runs the enclave-level checks shared by every attestation: measured
// image, certificate chain, and signature.
func (ev *evidence) check(knownPCRs []PCRSet) BaseValidationResult {
	result := BaseValidationResult{ValidationDetails: []string{}}
	note := func(format string, args ...any) {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf(format, args...))
	}

	pcrs := ev.summary().PCRs
	if i, ok := ValidatePCRs(pcrs, knownPCRs); ok {
		result.PCRsValid = true
		note("PCRs match known set #%d (commit %s)", i, knownPCRs[i].CommitHash)
	} else {
		note("PCRs match no known set: pcr0=%s pcr1=%s pcr2=%s", pcrs.ImageFileHash, pcrs.KernelHash, pcrs.ApplicationHash)
	}

	if err := ev.verifyChain(); err != nil {
		note("Certificate chain invalid: %v", err)
	} else {
		result.CertificateValid = true
		note("Certificate chain verified at %s", ev.issuedAt().Format(time.RFC3339))
	}

	if err := ev.verifySignature(); err != nil {
		note("COSE signature invalid: %v", err)
	} else {
		result.SignatureValid = true
		note("COSE signature verified")
	}
	return result
}

// ValidatePCRs returns the index of the first known set whose PCR0-2 equal
// pcrs, or -1 and false.
func ValidatePCRs(pcrs PCRs, knownSets []PCRSet) (int, bool) {
	for i, known := range knownSets {
		if pcrs.ImageFileHash == known.PCR0 && pcrs.KernelHash == known.PCR1 && pcrs.ApplicationHash == known.PCR2 {
			return i, true
		}
	}
	return -1, false
}

// LoadPCRsFromFile reads a PCRConfig JSON file.
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PCR config: %w", err)
	}
	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse PCR config: %w", err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("PCR config %s lists no sets", path)
	}
	return config.PCRSets, nil
}
