// Command devtoken signs an access token for local development, using the
// same secret and audience the server verifies against.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/platform/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devtoken", flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.String("user", "", "user id (token subject)")
	email := fs.String("email", "", "user email")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *userID == "" {
		fmt.Fprintln(stderr, "devtoken: -user is required")
		return 2
	}

	if err := config.LoadDotEnv(os.Getenv("REVISE_ENV_FILE")); err != nil {
		fmt.Fprintf(stderr, "devtoken: %v\n", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "devtoken: %v\n", err)
		return 1
	}

	ttl := time.Duration(cfg.Auth.AccessTokenTTL) * time.Minute
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Audience, ttl)
	if err != nil {
		fmt.Fprintf(stderr, "devtoken: %v\n", err)
		return 1
	}
	token, err := issuer.Issue(auth.User{ID: *userID, Email: *email})
	if err != nil {
		fmt.Fprintf(stderr, "devtoken: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, token)
	return 0
}
