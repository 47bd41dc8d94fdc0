// key-validator checks that a house's receipt key was generated inside an
// enclave running a known image, and prints the fingerprint to pin.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudx-io/escrowhouse/api"
	"github.com/cloudx-io/escrowhouse/validation"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("key-validator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		source  = fs.String("key", "", "key response: JSON file, or house base URL to fetch /receipt-key from")
		pcrs    = fs.String("pcrs", "", "known PCR sets JSON file")
		format  = fs.String("format", "text", "output format: text or json")
		pemOut  = fs.String("pem-out", "", "write the key here as PEM once it validates")
		timeout = fs.Duration("timeout", 10*time.Second, "fetch timeout when --key is a URL")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: key-validator --key <file|url> --pcrs <file> [--format text|json] [--pem-out <file>]")
		fmt.Fprintln(stderr, "Exit codes: 0 valid, 1 invalid, 2 input or runtime error")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *source == "" || *pcrs == "" {
		fs.Usage()
		return exitError
	}

	key, err := loadKeyResponse(*source, *timeout)
	if err != nil {
		fmt.Fprintf(stderr, "key response: %v\n", err)
		return exitError
	}
	knownPCRs, err := validation.LoadPCRsFromFile(*pcrs)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitError
	}
	result, err := validation.ValidateKeyAttestation(key.KeyAttestation, key.PublicKey, knownPCRs)
	if err != nil {
		fmt.Fprintf(stderr, "validation: %v\n", err)
		return exitError
	}
	if key.KeyFingerprint != "" && key.KeyFingerprint != result.KeyFingerprint {
		result.PublicKeyMatch = false
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Served fingerprint %s does not match the served key", key.KeyFingerprint))
	}

	if *format == "json" {
		err = writeJSON(stdout, result)
	} else {
		writeText(stdout, result)
	}
	if err != nil {
		fmt.Fprintf(stderr, "output: %v\n", err)
		return exitError
	}

	if !result.IsValid() {
		return exitInvalid
	}
	if *pemOut != "" {
		if err := os.WriteFile(*pemOut, []byte(key.PublicKey), 0o644); err != nil {
			fmt.Fprintf(stderr, "write PEM: %v\n", err)
			return exitError
		}
	}
	return exitValid
}

func loadKeyResponse(source string, timeout time.Duration) (*api.KeyResponse, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetchKey(source, timeout)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}

	var key api.KeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if key.KeyAttestation == "" {
		return nil, fmt.Errorf("no key_attestation: the house is not running in an enclave")
	}
	return &key, nil
}

func fetchKey(baseURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/receipt-key", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", req.URL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func writeText(w io.Writer, r *validation.KeyValidationResult) {
	fmt.Fprintf(w, "Receipt key %s\n", r.KeyFingerprint)
	for _, line := range []struct {
		label string
		ok    bool
	}{
		{"PCRs", r.PCRsValid},
		{"certificate chain", r.CertificateValid},
		{"COSE signature", r.SignatureValid},
		{"key in user data", r.PublicKeyMatch},
		{"key bound to document", r.KeyBound},
		{"key algorithm", r.AlgorithmValid},
	} {
		mark := "FAIL"
		if line.ok {
			mark = "ok"
		}
		fmt.Fprintf(w, "  %-22s %s\n", line.label, mark)
	}
	for _, d := range r.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	if r.IsValid() {
		fmt.Fprintln(w, "PASSED")
	} else {
		fmt.Fprintln(w, "FAILED")
	}
}

type jsonResult struct {
	Valid            bool     `json:"valid"`
	KeyFingerprint   string   `json:"key_fingerprint"`
	PCRsValid        bool     `json:"pcrs_valid"`
	CertificateValid bool     `json:"certificate_valid"`
	SignatureValid   bool     `json:"signature_valid"`
	PublicKeyMatch   bool     `json:"public_key_match"`
	KeyBound         bool     `json:"key_bound"`
	AlgorithmValid   bool     `json:"algorithm_valid"`
	Details          []string `json:"details"`
}

func writeJSON(w io.Writer, r *validation.KeyValidationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonResult{
		Valid:            r.IsValid(),
		KeyFingerprint:   r.KeyFingerprint,
		PCRsValid:        r.PCRsValid,
		CertificateValid: r.CertificateValid,
		SignatureValid:   r.SignatureValid,
		PublicKeyMatch:   r.PublicKeyMatch,
		KeyBound:         r.KeyBound,
		AlgorithmValid:   r.AlgorithmValid,
		Details:          r.ValidationDetails,
	})
}
