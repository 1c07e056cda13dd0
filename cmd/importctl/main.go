// Command importctl previews and commits student roster files from the
// command line, mints development tokens and applies the database schema.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/logging"
	"github.com/JonMunkholm/rosterimport/internal/store"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitValidation = 3
	exitDB         = 4
)

// codedError carries a process exit code.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// reportError prints the support-coded message for known errors, followed
// by the technical detail.
func reportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, "error:", core.FormatUserError(err))
		fmt.Fprintln(w, "detail:", err)
		return
	}
	fmt.Fprintln(w, "error:", err)
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitFailure
}

// env holds what commands need from the outside world; tests replace it.
type env struct {
	loadConfig func() (*config.Config, error)
	openStore  func(ctx context.Context, cfg *config.Config) (*store.Backend, error)
}

func defaultEnv() *env {
	return &env{
		loadConfig: func() (*config.Config, error) {
			_ = godotenv.Overload()
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			// stdout carries command output; logs go to stderr.
			logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			return cfg, nil
		},
		openStore: store.Open,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(defaultEnv())
	err := root.ExecuteContext(ctx)
	reportError(os.Stderr, err)
	stop()
	os.Exit(exitCodeFor(err))
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Student roster import tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newPreviewCmd(e),
		newCommitCmd(e),
		newTemplateCmd(),
		newTokenCmd(e),
		newMigrateCmd(e),
	)
	return root
}
