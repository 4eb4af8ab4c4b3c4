package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rentescrow/crypto"
	"rentescrow/gateway/middleware"
)

type recordedCall struct {
	method string
	path   string
	body   interface{}
}

func stubAPI(t *testing.T, status int, response string) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := apiCall
	apiCall = func(method, path string, body interface{}) (json.RawMessage, int, error) {
		*calls = append(*calls, recordedCall{method: method, path: path, body: body})
		return json.RawMessage(response), status, nil
	}
	t.Cleanup(func() { apiCall = original })
	return calls
}

func landlordAddress() string {
	var raw [20]byte
	raw[19] = 0x02
	return crypto.FormatIdentity(raw)
}

func TestEscrowCreateSendsRequest(t *testing.T) {
	calls := stubAPI(t, http.StatusCreated, `{"id":1}`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"escrow", "create", "--id", "1", "--landlord", landlordAddress(), "--rent", "1_000", "--duration", "30"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr.String())
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one call, got %d", len(*calls))
	}
	call := (*calls)[0]
	if call.method != http.MethodPost || call.path != "/v1/escrows" {
		t.Fatalf("unexpected call %s %s", call.method, call.path)
	}
	body := call.body.(map[string]interface{})
	if body["rentAmount"] != "1000" || body["leaseDuration"] != uint64(30) || body["id"] != uint64(1) {
		t.Fatalf("unexpected body %#v", body)
	}
	if !strings.Contains(stdout.String(), `"id": 1`) {
		t.Fatalf("expected pretty printed response, got %q", stdout.String())
	}
}

func TestEscrowActionsUseExpectedRoutes(t *testing.T) {
	cases := []struct {
		args   []string
		method string
		path   string
	}{
		{[]string{"escrow", "get", "--id", "4"}, http.MethodGet, "/v1/escrows/4"},
		{[]string{"escrow", "rent", "--id", "4"}, http.MethodPost, "/v1/escrows/4/rent"},
		{[]string{"escrow", "pay", "--id", "4", "--amount", "10"}, http.MethodPost, "/v1/escrows/4/payments"},
		{[]string{"escrow", "end", "--id", "4"}, http.MethodPost, "/v1/escrows/4/end"},
		{[]string{"escrow", "cancel", "--id", "4"}, http.MethodPost, "/v1/escrows/4/cancel"},
		{[]string{"escrow", "score", "--id", "4", "--input", "9"}, http.MethodPost, "/v1/escrows/4/score"},
		{[]string{"escrow", "list", "--landlord", "x"}, http.MethodGet, "/v1/escrows?landlord=x"},
		{[]string{"account", landlordAddress()}, http.MethodGet, "/v1/accounts/" + landlordAddress()},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args[:2], "_"), func(t *testing.T) {
			calls := stubAPI(t, http.StatusOK, `{}`)
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 0 {
				t.Fatalf("unexpected exit %d: %s", code, stderr.String())
			}
			if len(*calls) != 1 || (*calls)[0].method != tc.method || (*calls)[0].path != tc.path {
				t.Fatalf("unexpected calls %#v", *calls)
			}
		})
	}
}

func TestEscrowArgValidation(t *testing.T) {
	cases := map[string][]string{
		"usage":          {"escrow"},
		"unknown":        {"escrow", "dispute"},
		"missing id":     {"escrow", "rent"},
		"bad id":         {"escrow", "rent", "--id", "-1"},
		"bad landlord":   {"escrow", "create", "--id", "1", "--landlord", "cosmos1xyz", "--rent", "1", "--duration", "1"},
		"missing amount": {"escrow", "pay", "--id", "1"},
		"bad amount":     {"escrow", "pay", "--id", "1", "--amount", "1.5"},
		"attest no ref":  {"attest", "--tenant", landlordAddress()},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			calls := stubAPI(t, http.StatusOK, `{}`)
			var stdout, stderr bytes.Buffer
			if code := run(args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if len(*calls) != 0 {
				t.Fatalf("unexpected API call %#v", *calls)
			}
		})
	}
}

func TestServerErrorsAreReported(t *testing.T) {
	stubAPI(t, http.StatusConflict, `{"error":"rentescrow: lease not expired"}`)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"escrow", "end", "--id", "1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure exit")
	}
	if !strings.Contains(stderr.String(), "Error (409): rentescrow: lease not expired") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestGlobalFlags(t *testing.T) {
	originalURL, originalToken := serverURL, authToken
	t.Cleanup(func() { serverURL, authToken = originalURL, originalToken })

	rest, err := applyGlobalFlags([]string{"--server", "http://example:1", "--token=abc", "escrow", "list"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if serverURL != "http://example:1" || authToken != "abc" {
		t.Fatalf("flags not applied: %q %q", serverURL, authToken)
	}
	if strings.Join(rest, " ") != "escrow list" {
		t.Fatalf("unexpected remaining args %v", rest)
	}
	if _, err := applyGlobalFlags([]string{"--server"}); err == nil {
		t.Fatalf("expected missing value error")
	}
}

func TestKeygenAndTokenFromKeystore(t *testing.T) {
	t.Setenv("RENTESCROW_KEYSTORE_PASSPHRASE", "correct horse")
	t.Setenv("RENTESCROW_JWT_SECRET", "s3cret")
	path := filepath.Join(t.TempDir(), "keys", "renter.json")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"keygen", "--out", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("keygen exit %d: %s", code, stderr.String())
	}
	line := strings.SplitN(stdout.String(), "\n", 2)[0]
	address := strings.TrimPrefix(line, "Address: ")
	expected, err := crypto.ParseIdentity(address)
	if err != nil {
		t.Fatalf("keygen printed invalid address %q: %v", address, err)
	}

	stdout.Reset()
	if code := run([]string{"token", "--keystore", path, "--issuer", "rentescrow"}, &stdout, &stderr); code != 0 {
		t.Fatalf("token exit %d: %s", code, stderr.String())
	}
	token := strings.TrimSpace(stdout.String())
	auth := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: "s3cret", Issuer: "rentescrow"}, nil)
	caller, err := auth.Authenticate("Bearer " + token)
	if err != nil {
		t.Fatalf("authenticate minted token: %v", err)
	}
	if caller != expected {
		t.Fatalf("token subject mismatch")
	}
}

func TestTokenRequiresIdentity(t *testing.T) {
	original := tokenNow
	tokenNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	t.Cleanup(func() { tokenNow = original })
	t.Setenv("RENTESCROW_JWT_SECRET", "s3cret")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"token"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure without identity")
	}
	if code := run([]string{"token", "--address", landlordAddress(), "--keystore", "x"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure with both identities")
	}
	if code := run([]string{"token", "--address", landlordAddress()}, &stdout, &stderr); code != 0 {
		t.Fatalf("token exit: %s", stderr.String())
	}
}
