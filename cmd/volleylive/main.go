package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/volleylive/client-go/internal/app"
	"github.com/volleylive/client-go/internal/config"
	vlog "github.com/volleylive/client-go/internal/log"
	"github.com/volleylive/client-go/internal/realtime"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "volleylive",
		Short: "VolleyLive league client",
		Long:  "Command line client for the VolleyLive league backend: session management and live match following.",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./volleylive.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newLoginCmd(), newLogoutCmd(), newStatusCmd(), newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads config, builds the application, and restores the persisted
// session. The returned cleanup must be deferred by the caller.
func setup(ctx context.Context) (*app.App, func(), error) {
	bootstrapLog := vlog.New("warn")
	cfg, _, err := config.Load(bootstrapLog, configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := vlog.New(level)

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := a.Sessions().Initialize(ctx); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("initialize session: %w", err)
	}

	return a, a.Close, nil
}

func newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Sessions().Login(ctx, email, password); err != nil {
				return err
			}

			user := a.Sessions().CurrentUser()
			fmt.Printf("signed in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Sessions().Logout(ctx); err != nil {
				return err
			}
			fmt.Println("signed out")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sessions := a.Sessions()
			if !sessions.IsAuthenticated() {
				fmt.Println("not signed in")
				return nil
			}

			user := sessions.CurrentUser()
			fmt.Printf("signed in as %s <%s>\n", user.Name, user.Email)
			fmt.Printf("roles:       %s\n", strings.Join(user.Roles, ", "))
			fmt.Printf("permissions: %s\n", strings.Join(sessions.Permissions(), ", "))
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var matchID int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the realtime feed and follow a match",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Start(ctx); err != nil {
				return err
			}

			printEvent := func(name string) realtime.EventHandler {
				return func(payload json.RawMessage) {
					fmt.Printf("%s %s\n", name, string(payload))
				}
			}

			unsubscribe := a.Realtime().SubscribeToMatch(matchID, realtime.MatchHandlers{
				OnScoreUpdated:     printEvent("score"),
				OnSetCompleted:     printEvent("set complete"),
				OnStatusChanged:    printEvent("status"),
				OnMatchStarted:     printEvent("match started"),
				OnMatchFinished:    printEvent("match finished"),
				OnRotationUpdated:  printEvent("rotation"),
				OnSanctionIssued:   printEvent("sanction"),
				OnTimeoutCalled:    printEvent("timeout"),
				OnSubstitutionMade: printEvent("substitution"),
				OnError: func(err error) {
					fmt.Fprintln(os.Stderr, "realtime error:", err)
				},
			})
			defer unsubscribe()

			fmt.Printf("following match %d, press Ctrl-C to stop\n", matchID)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().Int64Var(&matchID, "match", 0, "match ID to follow")
	cmd.MarkFlagRequired("match")

	return cmd
}
