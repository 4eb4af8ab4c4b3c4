package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"rentescrow/cmd/internal/passphrase"
	"rentescrow/crypto"
	"rentescrow/gateway/middleware"
)

var tokenNow = time.Now

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		out     string
		passEnv string
	)
	fs.StringVar(&out, "out", "", "keystore file to write")
	fs.StringVar(&passEnv, "passphrase-env", "RENTESCROW_KEYSTORE_PASSPHRASE", "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		return printError(stderr, "--out is required")
	}
	pass, err := passphrase.NewSource(passEnv, "Enter new keystore passphrase").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	addr, err := crypto.SaveToKeystore(out, key, pass)
	if err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", addr.String(), out)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		address   string
		keystore  string
		passEnv   string
		secretEnv string
		issuer    string
		audience  string
		ttl       time.Duration
	)
	fs.StringVar(&address, "address", "", "bech32 address asserted by the token")
	fs.StringVar(&keystore, "keystore", "", "derive the address from this keystore instead of --address")
	fs.StringVar(&passEnv, "passphrase-env", "RENTESCROW_KEYSTORE_PASSPHRASE", "environment variable holding the keystore passphrase")
	fs.StringVar(&secretEnv, "secret-env", "RENTESCROW_JWT_SECRET", "environment variable holding the HMAC secret")
	fs.StringVar(&issuer, "issuer", "", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var caller [20]byte
	switch {
	case keystore != "" && address != "":
		return printError(stderr, "use either --address or --keystore")
	case keystore != "":
		pass, err := passphrase.NewSource(passEnv, "Enter keystore passphrase").Get()
		if err != nil {
			return printError(stderr, err.Error())
		}
		key, err := crypto.LoadFromKeystore(keystore, pass)
		if err != nil {
			return printError(stderr, fmt.Sprintf("load keystore: %v", err))
		}
		caller = key.PubKey().Address().Bytes()
	case address != "":
		parsed, err := crypto.ParseIdentity(address)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--address: %v", err))
		}
		caller = parsed
	default:
		return printError(stderr, "--address or --keystore is required")
	}

	token, err := middleware.SignToken(middleware.AuthConfig{
		HMACSecret: os.Getenv(secretEnv),
		Issuer:     issuer,
		Audience:   audience,
	}, caller, ttl, tokenNow())
	if err != nil {
		return printError(stderr, fmt.Sprintf("sign token (is %s set?): %v", secretEnv, err))
	}
	fmt.Fprintln(stdout, token)
	return 0
}
