package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/escrowhouse/api"
	"github.com/cloudx-io/escrowhouse/validation"
)

func main() {
	// Define CLI flags
	var (
		responseInput = flag.String("response", "", "Operation response JSON (file path or inline JSON)")
		publicKeyPath = flag.String("public-key", "", "Path to receipt key PEM file")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	// Show help
	if *help {
		showUsage()
		os.Exit(0)
	}

	if *responseInput == "" || *publicKeyPath == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --response and --public-key are required\n")
		os.Exit(1)
	}

	response, err := readOperationResponse(*responseInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	// The receipt must say exactly what the response claims happened.
	amount := response.Event.Amount
	result, err := validation.ValidateReceipt(&validation.ReceiptValidationInput{
		Receipt:   response.Receipt,
		PublicKey: string(publicKey),
		Auction:   response.Event.Auction,
		Kind:      response.Event.Kind,
		Actor:     response.Event.Actor,
		Amount:    &amount,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Auction Receipt Validator")
	fmt.Println()
	fmt.Println("Checks that an operation response carries a receipt signed by the")
	fmt.Println("house's receipt key and that the receipt matches the reported event.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  receipt-validator --response <json|path> --public-key <pem> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --response <json|path>    Operation response returned by the house")
	fmt.Println("  --public-key <path>       Receipt key PEM (validate it first with key-validator)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --format <text|json>      Output format (default: text)")
	fmt.Println("  --help                    Show this help message")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readOperationResponse(input string) (*api.OperationResponse, error) {
	// Try reading as file first
	data, err := os.ReadFile(input)
	if err != nil {
		// Treat as inline JSON
		data = []byte(input)
	}

	var response api.OperationResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("parse operation response: %w", err)
	}
	if response.Event == nil {
		return nil, fmt.Errorf("missing event field in operation response")
	}
	if response.Receipt == "" {
		return nil, fmt.Errorf("missing receipt field in operation response")
	}
	return &response, nil
}

func outputText(result *validation.ReceiptValidationResult) {
	fmt.Println("Auction Receipt Validator")
	fmt.Println("=========================")
	fmt.Println()

	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:   %v\n", result.SignatureValid)
	fmt.Printf("  Auction Valid:     %v\n", result.AuctionValid)
	fmt.Printf("  Kind Valid:        %v\n", result.KindValid)
	fmt.Printf("  Actor Valid:       %v\n", result.ActorValid)
	fmt.Printf("  Amount Valid:      %v\n", result.AmountValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("=========================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.ReceiptValidationResult) {
	output := map[string]any{
		"valid":           result.IsValid(),
		"signature_valid": result.SignatureValid,
		"auction_valid":   result.AuctionValid,
		"kind_valid":      result.KindValid,
		"actor_valid":     result.ActorValid,
		"amount_valid":    result.AmountValid,
		"event":           result.Event,
		"details":         result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
