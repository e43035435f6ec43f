// Command tokengen mints a filegate access token for a user id.
//
//	FILEGATE_SECRET=... tokengen -user 42 -ttl 2h
//
// Without FILEGATE_SECRET the secret is read from the terminal without echo.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/filegate/internal/server/auth"
	"github.com/dmitrijs2005/filegate/internal/shared"
	"golang.org/x/term"
)

const secretEnv = "FILEGATE_SECRET"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("user", "", "user id to put in the token")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *user == "" {
		return errors.New("-user is required")
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}

	secret, err := loadSecret(stderr)
	if err != nil {
		return err
	}
	defer shared.Wipe(secret)

	token, err := auth.GenerateToken(*user, secret, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	_, err = fmt.Fprintln(stdout, token)
	return err
}

func loadSecret(w io.Writer) ([]byte, error) {
	if s := os.Getenv(secretEnv); s != "" {
		return []byte(s), nil
	}

	if _, err := fmt.Fprint(w, "Enter secret: "); err != nil {
		return nil, err
	}
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	if strings.TrimSpace(string(secret)) == "" {
		return nil, errors.New("secret must not be empty")
	}
	return secret, nil
}
