package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rosterimport/internal/auth"
	"github.com/JonMunkholm/rosterimport/internal/core"
)

func parseUUIDFlag(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("invalid --%s: %w", name, err))
	}
	return id, nil
}

func readUpload(path, actor string) (core.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Upload{}, withCode(exitUsage, fmt.Errorf("read --file: %w", err))
	}
	return core.Upload{FileName: filepath.Base(path), Data: data, Actor: actor}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// classify maps service errors onto exit codes.
func classify(err error) error {
	var headerErr *core.HeaderError
	switch {
	case errors.As(err, &headerErr),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrUnreadableFile),
		errors.Is(err, core.ErrFileTooLarge),
		errors.Is(err, core.ErrUnsupportedFileType),
		errors.Is(err, core.ErrAcademicYearNotFound):
		return withCode(exitValidation, err)
	default:
		return withCode(exitDB, err)
	}
}

func newPreviewCmd(e *env) *cobra.Command {
	var tenant, file string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Validate a roster file without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseUUIDFlag("tenant", tenant)
			if err != nil {
				return err
			}
			upload, err := readUpload(file, "")
			if err != nil {
				return err
			}

			cfg, err := e.loadConfig()
			if err != nil {
				return withCode(exitUsage, err)
			}
			backend, err := e.openStore(cmd.Context(), cfg)
			if err != nil {
				return withCode(exitDB, err)
			}
			defer backend.Close()

			svc := core.NewService(backend.Store, cfg.Import.ServiceOptions())
			resp, err := svc.Preview(cmd.Context(), tenantID, upload)
			if err != nil {
				return classify(err)
			}

			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !resp.CanImport {
				return withCode(exitValidation, fmt.Errorf("%d of %d rows cannot be imported",
					resp.Summary.InvalidRows+resp.Summary.SkippedRows, resp.Summary.ProcessedRows))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&file, "file", "", "CSV or XLSX roster file (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCommitCmd(e *env) *cobra.Command {
	var tenant, year, file, actor string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Import a roster file into an academic year",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseUUIDFlag("tenant", tenant)
			if err != nil {
				return err
			}
			yearID, err := parseUUIDFlag("year", year)
			if err != nil {
				return err
			}
			upload, err := readUpload(file, actor)
			if err != nil {
				return err
			}

			cfg, err := e.loadConfig()
			if err != nil {
				return withCode(exitUsage, err)
			}
			backend, err := e.openStore(cmd.Context(), cfg)
			if err != nil {
				return withCode(exitDB, err)
			}
			defer backend.Close()

			svc := core.NewService(backend.Store, cfg.Import.ServiceOptions())
			resp, err := svc.Commit(cmd.Context(), tenantID, yearID, upload)
			if err != nil {
				return classify(err)
			}

			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if resp.CompletedAt == nil {
				return withCode(exitValidation, errors.New("file refused by validation; nothing was written"))
			}
			if resp.Summary.FailureCount > 0 {
				return withCode(exitValidation, fmt.Errorf("%d rows failed to import", resp.Summary.FailureCount))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&year, "year", "", "Academic year UUID (required)")
	cmd.Flags().StringVar(&file, "file", "", "CSV or XLSX roster file (required)")
	cmd.Flags().StringVar(&actor, "actor", currentUser(), "Name recorded in the import audit")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTemplateCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the CSV import template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(core.Template())
				return err
			}
			return os.WriteFile(out, core.Template(), 0o644)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}

func newTokenCmd(e *env) *cobra.Command {
	var tenant, subject, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseUUIDFlag("tenant", tenant)
			if err != nil {
				return err
			}

			cfg, err := e.loadConfig()
			if err != nil {
				return withCode(exitUsage, err)
			}

			authCfg := cfg.Auth
			if ttl > 0 {
				authCfg.TokenTTL = ttl
			}
			token, err := auth.NewTokenService(authCfg).Issue(tenantID, subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&subject, "subject", currentUser(), "Token subject, recorded as the import actor")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Token role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: JWT_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return withCode(exitUsage, err)
			}
			if cfg.Database.InMemory {
				return withCode(exitUsage, errors.New("migrate needs DATABASE_URL; DB_IN_MEMORY is set"))
			}

			backend, err := e.openStore(cmd.Context(), cfg)
			if err != nil {
				return withCode(exitDB, err)
			}
			defer backend.Close()

			if err := backend.Migrate(cmd.Context()); err != nil {
				return withCode(exitDB, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "importctl"
}
