package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	serverURL = defaultServerURL()
	authToken = strings.TrimSpace(os.Getenv("RENTESCROW_TOKEN"))

	httpClient             = &http.Client{Timeout: 15 * time.Second}
	apiCall    apiCallFunc = callServer
)

// apiCallFunc issues a request against the daemon and returns the raw body
// together with the HTTP status.
type apiCallFunc func(method, path string, body interface{}) (json.RawMessage, int, error)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "escrow":
		return runEscrowCommand(args[1:], stdout, stderr)
	case "account":
		return runAccount(args[1:], stdout, stderr)
	case "attest":
		return runAttest(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultServerURL() string {
	if value := strings.TrimSpace(os.Getenv("RENTESCROW_URL")); value != "" {
		return value
	}
	return "http://127.0.0.1:8090"
}

// applyGlobalFlags strips --server and --token ahead of the subcommand.
func applyGlobalFlags(args []string) ([]string, error) {
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--server", "--token":
		default:
			remaining = append(remaining, args[i:]...)
			return remaining, nil
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		if name == "--server" {
			serverURL = strings.TrimSpace(value)
		} else {
			authToken = strings.TrimSpace(value)
		}
	}
	return remaining, nil
}

func callServer(method, path string, body interface{}) (json.RawMessage, int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// printResult pretty prints a successful response or reports the server's
// error message.
func printResult(stdout, stderr io.Writer, data json.RawMessage, status int) int {
	if status >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
			message = payload.Error
		}
		fmt.Fprintf(stderr, "Error (%d): %s\n", status, message)
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Fprintln(stdout, strings.TrimSpace(string(data)))
		return 0
	}
	fmt.Fprintln(stdout, strings.TrimSpace(pretty.String()))
	return 0
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return strings.TrimSpace(`Usage:
  rentescrow-cli [--server URL] [--token JWT] <command> [flags]

Commands:
  keygen   Generate a key and write it to an encrypted keystore
  token    Mint a bearer token for an address
  escrow   Manage rent escrows
  account  Show the ledger balance of an address
  attest   Record a lease agreement for a tenant
`)
}
