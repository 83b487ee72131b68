// Command docsctl runs maintenance tasks against the docs service's store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnajarc/sistemaInm-sub001/internal/actortoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/servicetoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/catalog"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/services/docs/internal/app"
	"github.com/mnajarc/sistemaInm-sub001/services/docs/internal/config"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "docsctl",
		Short:         "Maintenance commands for document submissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("DOCS_CONFIG_PATH", config.ConfigPath), "Config file path (YAML)")

	cmd.AddCommand(
		sweepCmd(&configPath),
		auditCmd(&configPath),
		catalogCmd(),
		tokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "docsctl version %s (build: %s)\n", Version, BuildTime)
			},
		},
	)
	return cmd
}

func sweepCmd(configPath *string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire approved submissions whose expiry date has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			today := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				today = parsed
			}
			return withApp(cmd.Context(), *configPath, func(a *app.App) error {
				res, err := a.Sweeper.RunOnce(cmd.Context(), today)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"scanned":    res.Scanned,
					"expired":    res.Expired,
					"skipped":    res.Skipped,
					"failed":     res.Failed,
					"durationMs": res.Duration.Milliseconds(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Treat this day as today (YYYY-MM-DD)")
	return cmd
}

func auditCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <transaction-id>",
		Short: "Check the co-owner shares of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app.App) error {
				report, err := a.Engine.Audit(cmd.Context(), domain.SystemActor, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Consistent() {
					return fmt.Errorf("transaction %s has %d issue(s)", args[0], len(report.Issues))
				}
				return nil
			})
		},
	}
}

func catalogCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the document types of a catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Load(file)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), cat)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Catalog YAML (defaults to the built-in catalog)")
	return cmd
}

func printCatalog(w io.Writer, cat *catalog.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tKINDS\tPARTIES\tVALIDITY\tREQUIRED")
	for _, dt := range cat.Types() {
		validity := "-"
		if dt.ValidityDays > 0 {
			validity = fmt.Sprintf("%dd", dt.ValidityDays)
		}
		kinds := make([]string, 0, len(dt.Kinds))
		for _, k := range dt.Kinds {
			kinds = append(kinds, string(k))
		}
		parties := make([]string, 0, len(dt.Parties))
		for _, p := range dt.Parties {
			parties = append(parties, string(p))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", dt.Code, strings.Join(kinds, ","), strings.Join(parties, ","), validity, dt.Required)
	}
	return tw.Flush()
}

func tokenCmd() *cobra.Command {
	var (
		keyPath  string
		kid      string
		issuer   string
		audience string
		name     string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Issue an actor token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if domain.ParseRole(role) == domain.RoleNone {
				return fmt.Errorf("unknown role %q", role)
			}
			key, err := servicetoken.LoadRSAPrivateKey(keyPath)
			if err != nil {
				return err
			}
			token, err := actortoken.NewIssuer(key, kid, issuer, audience, ttl).Issue(args[0], name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "secrets/actor-jwt/private.pem", "RSA private key (PEM)")
	cmd.Flags().StringVar(&kid, "kid", servicetoken.DefaultKeyID, "Key id header")
	cmd.Flags().StringVar(&issuer, "issuer", "identity", "Token issuer")
	cmd.Flags().StringVar(&audience, "audience", "", "Token audience")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", "agent", "Role (client, agent, admin, superadmin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func withApp(ctx context.Context, configPath string, fn func(*app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The sweep and audit paths never call the analyzer.
	cfg.Analysis.Enabled = false
	// Logs go to stderr so stdout stays machine readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: util.ParseLevel(cfg.LogLevel)}))
	a, err := app.New(ctx, cfg, app.Deps{}, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
