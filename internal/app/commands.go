package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/patcreator/alx-backend-security/internal/app/bootstrap"
	"github.com/patcreator/alx-backend-security/internal/app/version"
	"github.com/patcreator/alx-backend-security/internal/auth"
	"github.com/patcreator/alx-backend-security/internal/config"
	jobruntime "github.com/patcreator/alx-backend-security/internal/jobs/runtime"
	"github.com/patcreator/alx-backend-security/internal/support"
)

const defaultCleanupDays = 7

// NewRootCommand builds the ipguard command tree.
func NewRootCommand() *cobra.Command {
	var (
		settingsPath string
		production   bool
	)

	root := &cobra.Command{
		Use:   "ipguard",
		Short: "IP admission control and anomaly detection",
		Long: `ipguard guards an HTTP site by client IP address.

Every request is checked against a deny-list and per-route rate limits,
enriched with a geolocation and recorded. A periodic scan flags actors
with unusual request volume or repeated access to sensitive paths.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if settingsPath != "" {
				config.SetSettingsPath(settingsPath)
			}
			config.SetProductionMode(production)
		},
	}

	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default: data/settings.json)")
	root.PersistentFlags().BoolVar(&production, "production", false, "run in production mode")

	root.AddCommand(
		serveCommand(),
		blockCommand(),
		unblockCommand(),
		resolveCommand(),
		promoteCommand(),
		detectCommand(),
		cleanupCommand(),
		tokenCommand(),
		versionCommand(),
	)
	return root
}

func serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the guarded HTTP server and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("port") {
				port = resolvePort("BACKEND_PORT", "PORT", defaultBackendPort)
			}
			return serve(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", defaultBackendPort, "port for the HTTP server (env BACKEND_PORT)")
	return cmd
}

// withServices runs fn against freshly set up services. Deny-list changes are
// broadcast to running servers when Redis is configured.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, s *bootstrap.Services) error) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := setupServices()
	if err != nil {
		return err
	}
	defer s.Close()

	if s.Redis != nil {
		s.DenyList.EnableRedisSync(ctx, s.Redis, jobruntime.InstanceID())
	}
	return fn(ctx, s)
}

func blockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "block-ip <ip>",
		Short: "Add an address to the deny-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
				result, err := s.Moderation.BlockIP(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Message())
				return nil
			})
		},
	}
}

func unblockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock-ip <ip>",
		Short: "Remove an address from the deny-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
				removed, err := s.Moderation.UnblockIP(ctx, args[0])
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Successfully unblocked IP: %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "IP %s was not blocked\n", args[0])
				}
				return nil
			})
		},
	}
}

func resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ip>...",
		Short: "Mark suspicious addresses as resolved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
				resolved, err := s.Moderation.ResolveSuspicious(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d suspicious IPs\n", resolved)
				return nil
			})
		},
	}
}

func promoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <ip>...",
		Short: "Block suspicious addresses and resolve their flags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
				blocked, err := s.Moderation.PromoteSuspicious(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Blocked %d suspicious IPs\n", blocked)
				return nil
			})
		},
	}
}

func detectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run one anomaly detection pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
				report, err := s.Moderation.RunDetection(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
				return nil
			})
		},
	}
}

func cleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete request logs older than the given number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
				result, err := s.Moderation.CleanupLogs(ctx, time.Duration(days)*24*time.Hour)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Message())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", defaultCleanupDays, "maximum age of kept logs in days")
	return cmd
}

func tokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the admin API (needs JWT_SECRET)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			authenticator, err := auth.NewAuthenticator(support.GetEnv("JWT_SECRET", ""))
			if err != nil {
				return err
			}
			token, err := authenticator.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "token role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "ipguard %s\n", info.BuildVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "Built:   %s\n", info.BuiltAt)
		},
	}
}
