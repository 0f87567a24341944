package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/org/authcore/internal/observer"
	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/internal/session"
	"github.com/org/authcore/pkg/models"
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "authcore CLI",
	Long:  "A CLI for signing in to authcore, watching the session and reading the audit trail.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field")
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "Catalog vocabulary file (default from config, else built-in)")

	rootCmd.AddCommand(loginCmd(), logoutCmd(), whoamiCmd(), reauthCmd())
	rootCmd.AddCommand(sessionCmd(), auditCmd(), catalogCmd(), adminCmd())
}

var catalogFile string

// loadCatalog reads the vocabulary named by --catalog or the config file.
func loadCatalog() (*permission.Catalog, error) {
	if catalogFile != "" {
		return permission.LoadFile(catalogFile)
	}
	return permission.LoadFile(cfg.CatalogFile)
}

func readPassword(cmd *cobra.Command, prompt string) string {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p
	}
	fmt.Fprint(os.Stderr, prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// --- auth ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <principal>",
		Short: "Sign in and save the token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := readPassword(cmd, "Password: ")
			result, err := newClient().post(cmd.Context(), "/v1/auth/login", map[string]any{
				"principal_id": args[0],
				"password":     password,
			})
			if err != nil {
				return err
			}
			auth, _ := result["auth"].(map[string]any)
			if tok, ok := auth["client_token"].(string); ok {
				cfg.Token = tok
				if err := saveConfig(); err != nil {
					return fmt.Errorf("saving token: %w", err)
				}
				fmt.Fprintln(os.Stderr, "Token saved to config.")
			}
			delete(auth, "client_token")
			printResult(auth)
			return nil
		},
	}
	cmd.Flags().String("password", "", "Password (prompted when empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().post(cmd.Context(), "/v1/auth/logout", nil); err != nil {
				return err
			}
			cfg.Token = ""
			if err := saveConfig(); err != nil {
				return err
			}
			printSuccess("Signed out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(cmd.Context(), "/v1/auth/token/lookup-self", nil)
			if err != nil {
				return err
			}
			data, _ := result["data"].(map[string]any)
			printResult(data)
			return nil
		},
	}
}

func reauthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reauth",
		Short: "Re-enter the password to satisfy recent-authentication checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := readPassword(cmd, "Password: ")
			result, err := newClient().post(cmd.Context(), "/v1/auth/reauthenticate", map[string]any{"password": password})
			if err != nil {
				return err
			}
			data, _ := result["data"].(map[string]any)
			printSuccess(fmt.Sprintf("Re-authenticated at %v.", data["authenticated_at"]))
			return nil
		},
	}
	cmd.Flags().String("password", "", "Password (prompted when empty)")
	return cmd
}

// --- session ---

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Session monitoring"}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and report permission changes until it expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, _ := cmd.Flags().GetStringSlice("perm")
			sensitive, _ := cmd.Flags().GetStringSlice("sensitive")
			interval, _ := cmd.Flags().GetDuration("interval")
			poll, _ := cmd.Flags().GetDuration("poll")
			warning, _ := cmd.Flags().GetDuration("warning")
			refresh, _ := cmd.Flags().GetDuration("refresh")

			catalog, err := loadCatalog()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newClient()
			if tuning, err := client.serverTuning(ctx); err == nil {
				for flag, dst := range map[string]*time.Duration{
					"interval": &interval,
					"poll":     &poll,
					"warning":  &warning,
					"refresh":  &refresh,
				} {
					if d, ok := tuning[tuningKeys[flag]]; ok && !cmd.Flags().Changed(flag) {
						*dst = d
					}
				}
			}
			identity := &remoteIdentity{client: client}
			wd := session.NewWatchdog(identity, session.Options{
				WarningThreshold: warning,
				RefreshThreshold: refresh,
				PollInterval:     poll,
			})
			opts := observer.Options{Permissions: toPermissions(perms), Interval: interval}
			if cmd.Flags().Changed("sensitive") {
				opts.Sensitive = toPermissions(sensitive)
			}
			obs := observer.New(identity, catalog, wd, &remoteAuditor{client: client}, opts)

			expired := make(chan struct{}, 1)
			wd.OnWarning(func(remaining time.Duration) {
				fmt.Fprintf(os.Stderr, "session expires in %s\n", remaining.Round(time.Second))
			})
			wd.OnExpired(func() {
				select {
				case expired <- struct{}{}:
				default:
				}
			})
			obs.OnChange(func(s observer.Snapshot) {
				printSnapshot(s)
			})

			wd.Start(ctx)
			defer wd.Stop()
			obs.Start(ctx)
			defer obs.Stop()

			select {
			case <-ctx.Done():
				return nil
			case <-expired:
				return fmt.Errorf("session expired; run authctl login")
			}
		},
	}
	watchCmd.Flags().StringSlice("perm", nil, "Permissions to monitor (repeatable)")
	watchCmd.Flags().StringSlice("sensitive", nil, "Monitored permissions to audit-log on every check (default admin.system, admin.users)")
	watchCmd.Flags().Duration("interval", observer.DefaultInterval, "Permission recompute interval (default from server)")
	watchCmd.Flags().Duration("poll", session.DefaultPollInterval, "Session poll interval")
	watchCmd.Flags().Duration("warning", session.DefaultWarningThreshold, "Warn when the token has less than this left")
	watchCmd.Flags().Duration("refresh", session.DefaultRefreshThreshold, "Renew the token when it has less than this left")

	cmd.AddCommand(watchCmd)
	return cmd
}

// tuningKeys maps watch flags to the server's advertised session settings.
var tuningKeys = map[string]string{
	"interval": "observer_interval",
	"poll":     "poll_interval",
	"warning":  "warning_threshold",
	"refresh":  "refresh_threshold",
}

func printSnapshot(s observer.Snapshot) {
	data := map[string]any{
		"principal": s.PrincipalID,
		"state":     s.Session.State.String(),
	}
	granted := map[string]any{}
	for p, ok := range s.Granted {
		granted[string(p)] = ok
	}
	data["permissions"] = granted
	printResult(data)
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Read the audit trail"}

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if p, _ := cmd.Flags().GetString("principal"); p != "" {
				q.Set("principal", p)
			}
			if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
				q.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			result, err := newClient().get(cmd.Context(), "/v1/audit/events", q)
			if err != nil {
				return denialError(result, err)
			}
			rows, _ := result["data"].([]any)
			printRows(rows, "timestamp", "principal_id", "action", "resource_type", "result", "severity")
			return nil
		},
	}
	eventsCmd.Flags().String("principal", "", "Only events for this principal")
	eventsCmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 1h)")
	eventsCmd.Flags().Int("limit", 50, "Page size")
	eventsCmd.Flags().Int("offset", 0, "Page offset")

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List unresolved security alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			result, err := newClient().get(cmd.Context(), "/v1/audit/alerts", url.Values{"limit": {strconv.Itoa(limit)}})
			if err != nil {
				return denialError(result, err)
			}
			rows, _ := result["data"].([]any)
			printRows(rows, "timestamp", "type", "principal_id", "description", "events")
			return nil
		},
	}
	alertsCmd.Flags().Int("limit", 50, "Maximum alerts")

	cmd.AddCommand(eventsCmd, alertsCmd)
	return cmd
}

// denialError turns a step-up denial into an actionable message.
func denialError(result map[string]any, err error) error {
	if result != nil && result["reason"] == "reauth" {
		return fmt.Errorf("%w (run authctl reauth)", err)
	}
	return err
}

// --- catalog ---

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Query the permission catalog locally"}

	checkCmd := &cobra.Command{
		Use:   "check <role> <permission>...",
		Short: "Report which permissions a role holds",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}
			role := models.Role(args[0])
			data := map[string]any{}
			for _, p := range args[1:] {
				data[p] = catalog.HasPermission(role, models.Permission(p))
			}
			printResult(data)
			return nil
		},
	}

	moduleCmd := &cobra.Command{
		Use:   "module <role> <module>...",
		Short: "Report which modules a role may enter",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}
			role := models.Role(args[0])
			data := map[string]any{}
			for _, m := range args[1:] {
				data[m] = catalog.CanAccessModule(role, models.Module(m))
			}
			printResult(data)
			return nil
		},
	}

	rolesCmd := &cobra.Command{
		Use:   "roles",
		Short: "List roles and their permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}
			data := map[string]any{}
			for _, r := range catalog.Roles() {
				perms := catalog.Permissions(r)
				list := make([]any, len(perms))
				for i, p := range perms {
					list[i] = string(p)
				}
				data[string(r)] = list
			}
			printResult(data)
			return nil
		},
	}

	cmd.AddCommand(checkCmd, moduleCmd, rolesCmd)
	return cmd
}

// --- admin ---

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Administration"}

	createCmd := &cobra.Command{
		Use:   "create-principal <id>",
		Short: "Create a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			password := readPassword(cmd, "New principal's password: ")
			result, err := newClient().post(cmd.Context(), "/v1/admin/principals", map[string]any{
				"principal_id": args[0],
				"role":         role,
				"password":     password,
			})
			if err != nil {
				return denialError(result, err)
			}
			data, _ := result["data"].(map[string]any)
			printResult(data)
			return nil
		},
	}
	createCmd.Flags().String("role", string(models.RoleWorker), "Role for the principal")
	createCmd.Flags().String("password", "", "Password (prompted when empty)")

	cmd.AddCommand(createCmd)
	return cmd
}

func toPermissions(in []string) []models.Permission {
	out := make([]models.Permission, len(in))
	for i, p := range in {
		out[i] = models.Permission(p)
	}
	return out
}
