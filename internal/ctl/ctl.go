// Package ctl implements gatekeeperctl, the operator tool for the
// gatekeeper server. It shares the server configuration.
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

const usage = `usage: gatekeeperctl <command> [flags]

commands:
  hash-password     read a password from the terminal and print its hash
  sign-token <id>   print a signed token for an existing identity
`

var ErrUsage = errors.New("invalid usage")

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type tokenSigner interface {
	IssueFor(ctx context.Context, userID string) (*services.AuthResult, error)
}

// newSigner is a test seam; it builds the server application.
var newSigner = func(ctx context.Context, cfg *config.Config, stderr io.Writer) (tokenSigner, func() error, error) {
	app, err := server.NewAppWithLogger(ctx, cfg, logging.New(stderr, cfg.Production))
	if err != nil {
		return nil, nil, err
	}
	return app.Auth(), app.Close, nil
}

// Run executes the command named by args[0].
func Run(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return ErrUsage
	}

	switch args[0] {
	case "hash-password":
		return hashPassword(cfg, stdout, stderr)
	case "sign-token":
		id := ""
		if len(args) > 1 && !strings.HasPrefix(args[1], "-") {
			id = args[1]
		}
		if id == "" {
			fmt.Fprint(stderr, usage)
			return ErrUsage
		}
		return signToken(ctx, cfg, id, stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

// getPassword prints prompt to w and reads a password without echo.
// The caller wipes the returned slice.
func getPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func hashPassword(cfg *config.Config, stdout, stderr io.Writer) error {
	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher, cfg.PasswordHashCost)
	if err != nil {
		return err
	}

	pw, err := getPassword(stderr, "Enter password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer common.WipeByteArray(pw)

	confirm, err := getPassword(stderr, "Confirm password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer common.WipeByteArray(confirm)

	if string(pw) != string(confirm) {
		return errors.New("passwords are not the same")
	}
	if len(pw) < cfg.MinPasswordLength {
		return fmt.Errorf("password must contain at least %d characters", cfg.MinPasswordLength)
	}

	hash, err := hasher.Hash(string(pw))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func signToken(ctx context.Context, cfg *config.Config, id string, stdout, stderr io.Writer) error {
	signer, closeFn, err := newSigner(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := signer.IssueFor(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "expires at %s\n", res.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	_, err = fmt.Fprintln(stdout, res.Token)
	return err
}
