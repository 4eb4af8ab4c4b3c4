package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"rentescrow/crypto"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	case "get":
		return runEscrowAction(args[1:], stdout, stderr, "get", http.MethodGet, "")
	case "rent":
		return runEscrowAction(args[1:], stdout, stderr, "rent", http.MethodPost, "/rent")
	case "pay":
		return runEscrowPay(args[1:], stdout, stderr)
	case "end":
		return runEscrowAction(args[1:], stdout, stderr, "end", http.MethodPost, "/end")
	case "cancel":
		return runEscrowAction(args[1:], stdout, stderr, "cancel", http.MethodPost, "/cancel")
	case "score":
		return runEscrowScore(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow create", stderr)
	var (
		idStr    string
		landlord string
		rent     string
		duration string
	)
	fs.StringVar(&idStr, "id", "", "escrow identifier")
	fs.StringVar(&landlord, "landlord", "", "landlord bech32 address")
	fs.StringVar(&rent, "rent", "", "minimum rent per payment")
	fs.StringVar(&duration, "duration", "", "lease duration in seconds")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := parseEscrowID(idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if _, err := crypto.ParseIdentity(landlord); err != nil {
		return printError(stderr, fmt.Sprintf("--landlord: %v", err))
	}
	amount, err := normalizeAmount("--rent", rent)
	if err != nil {
		return printError(stderr, err.Error())
	}
	seconds, err := strconv.ParseUint(strings.TrimSpace(duration), 10, 64)
	if err != nil {
		return printError(stderr, "--duration must be a non-negative integer")
	}
	data, status, err := apiCall(http.MethodPost, "/v1/escrows", map[string]interface{}{
		"id":            id,
		"landlord":      strings.TrimSpace(landlord),
		"rentAmount":    amount,
		"leaseDuration": seconds,
	})
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow list", stderr)
	var renter, landlord string
	fs.StringVar(&renter, "renter", "", "only escrows created by this address")
	fs.StringVar(&landlord, "landlord", "", "only escrows owed to this address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	if renter != "" {
		query.Set("renter", renter)
	}
	if landlord != "" {
		query.Set("landlord", landlord)
	}
	path := "/v1/escrows"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	data, status, err := apiCall(http.MethodGet, path, nil)
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func runEscrowAction(args []string, stdout, stderr io.Writer, name, method, suffix string) int {
	fs := newEscrowFlagSet("escrow "+name, stderr)
	var idStr string
	fs.StringVar(&idStr, "id", "", "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := parseEscrowID(idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	data, status, err := apiCall(method, fmt.Sprintf("/v1/escrows/%d%s", id, suffix), nil)
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func runEscrowPay(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow pay", stderr)
	var idStr, amountStr string
	fs.StringVar(&idStr, "id", "", "escrow identifier")
	fs.StringVar(&amountStr, "amount", "", "amount to deposit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := parseEscrowID(idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := normalizeAmount("--amount", amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	data, status, err := apiCall(http.MethodPost, fmt.Sprintf("/v1/escrows/%d/payments", id), map[string]string{"amount": amount})
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func runEscrowScore(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow score", stderr)
	var idStr string
	var input uint64
	fs.StringVar(&idStr, "id", "", "escrow identifier")
	fs.Uint64Var(&input, "input", 0, "value handed to the score computer")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := parseEscrowID(idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	data, status, err := apiCall(http.MethodPost, fmt.Sprintf("/v1/escrows/%d/score", id), map[string]uint64{"input": input})
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func runAccount(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "usage: rentescrow-cli account <address>")
	}
	if _, err := crypto.ParseIdentity(args[0]); err != nil {
		return printError(stderr, err.Error())
	}
	data, status, err := apiCall(http.MethodGet, "/v1/accounts/"+strings.TrimSpace(args[0]), nil)
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func runAttest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("attest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		tenant    string
		reference string
		issuedAt  int64
		expiresAt int64
	)
	fs.StringVar(&tenant, "tenant", "", "tenant bech32 address")
	fs.StringVar(&reference, "reference", "", "lease agreement reference")
	fs.Int64Var(&issuedAt, "issued-at", 0, "unix time the agreement took effect (default now)")
	fs.Int64Var(&expiresAt, "expires-at", 0, "unix time the agreement lapses (0 = never)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := crypto.ParseIdentity(tenant); err != nil {
		return printError(stderr, fmt.Sprintf("--tenant: %v", err))
	}
	if strings.TrimSpace(reference) == "" {
		return printError(stderr, "--reference is required")
	}
	data, status, err := apiCall(http.MethodPost, "/v1/attestations", map[string]interface{}{
		"tenant":    strings.TrimSpace(tenant),
		"reference": strings.TrimSpace(reference),
		"issuedAt":  issuedAt,
		"expiresAt": expiresAt,
	})
	if err != nil {
		return printError(stderr, fmt.Sprintf("request failed: %v", err))
	}
	return printResult(stdout, stderr, data, status)
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func parseEscrowID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--id must be a non-negative integer")
	}
	return id, nil
}

// normalizeAmount validates a decimal amount, allowing "_" separators.
func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return "", fmt.Errorf("%s must be a non-negative integer: %v", flagName, err)
	}
	return amount.Dec(), nil
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  rentescrow-cli escrow <command> [flags]

Commands:
  create  Open an escrow as renter (--id --landlord --rent --duration)
  list    List live escrows (--renter --landlord)
  get     Fetch escrow details (--id)
  rent    Start the lease (--id)
  pay     Deposit rent (--id --amount)
  end     Close an expired lease as landlord (--id)
  cancel  Cancel an unleased escrow as landlord (--id)
  score   Compute the renter's reliability score (--id --input)
`)
}
