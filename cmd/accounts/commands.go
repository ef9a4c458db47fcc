package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/go-account-manager/accounts"
	"github.com/jrsteele09/go-account-manager/internal/config"
	"github.com/jrsteele09/go-account-manager/internal/utils"
	"github.com/spf13/cobra"
)

const loginTimeout = 5 * time.Minute

func newRootCommand(c config.Config) *cobra.Command {
	var (
		useOIDC     bool
		showMetrics bool
		a           *app
	)

	root := &cobra.Command{
		Use:           "accounts",
		Short:         "Manage the authenticated accounts of this client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(c, printLauncher(cmd), useOIDC)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a == nil {
				return
			}
			if showMetrics {
				printMetrics(cmd, a)
			}
			a.close()
		},
	}
	root.PersistentFlags().BoolVar(&useOIDC, "oidc", false, "verify identity through the provider's OpenID userinfo endpoint")
	root.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print operation counters after the command")

	appFn := func() *app { return a }
	root.AddCommand(
		listCommand(appFn),
		currentCommand(appFn),
		switchCommand(appFn),
		deleteCommand(appFn),
		wipeCommand(appFn),
		loginCommand(appFn),
	)
	return root
}

func printLauncher(cmd *cobra.Command) func(string) {
	return func(authURL string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to log in:\n\n  %s\n\n", authURL)
	}
}

func listCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			all, err := a().manager.GetAllAccounts(ctx)
			if err != nil {
				return err
			}
			current, err := a().manager.GetCurrentAccount(ctx)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				marker := " "
				if current != nil && current.Key() == k {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-30s %s\n", marker, k, all[k].InstanceURL)
			}
			return nil
		},
	}
}

func currentCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a().manager.GetCurrentAccount(cmd.Context())
			if err != nil {
				return err
			}
			if current == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no current account")
				return nil
			}
			printAccount(cmd, current)
			return nil
		},
	}
}

func switchCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <user-name|user-id|key>",
		Short: "Make another persisted account current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := a().manager.GetAllAccounts(cmd.Context())
			if err != nil {
				return err
			}
			target := findAccount(all, args[0])
			if target == nil {
				return fmt.Errorf("no account matches %q", args[0])
			}

			switched, err := a().manager.SwitchToAccount(cmd.Context(), target)
			if err != nil {
				return err
			}
			if !switched {
				return errors.New("account not switched")
			}
			printAccount(cmd, target)
			return nil
		},
	}
}

func deleteCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a().manager.DeleteAccount(cmd.Context())
		},
	}
}

func wipeCommand(a func() *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every account and start a fresh login",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to wipe without --yes")
			}
			return a().manager.WipeAllAccounts(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

// loginCommand runs the authorization code flow end to end: it serves the callback
// URL locally, waits for the redirect and creates the account from the exchange.
func loginCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			displayAppname(a().config.GetAppName())

			callback, err := url.Parse(a().config.GetCallbackURL())
			if err != nil {
				return fmt.Errorf("callback url: %w", err)
			}
			listener, err := net.Listen("tcp", callback.Host)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", callback.Host, err)
			}

			type result struct {
				resp *accounts.AuthResponse
				err  error
			}
			results := make(chan result, 1)
			mux := http.NewServeMux()
			mux.Handle(callback.Path, a().flow.CallbackHandler(func(resp *accounts.AuthResponse, err error) {
				select {
				case results <- result{resp, err}:
				default:
				}
			}))
			server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() { _ = server.Serve(listener) }()
			defer shutdown(server)

			a().manager.SwitchToDefaultFlow()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, loginTimeout)
			defer cancel()

			var r result
			select {
			case r = <-results:
			case <-ctx.Done():
				return fmt.Errorf("login not completed: %w", ctx.Err())
			}
			if r.err != nil {
				return r.err
			}

			account, err := a().manager.CreateAccount(cmd.Context(), loginOptions(a().config), *r.resp)
			if err != nil {
				return err
			}
			if !account.Verified() {
				fmt.Fprintln(cmd.OutOrStdout(), "logged in, but the identity service could not be reached; the account was not saved")
				return nil
			}
			printAccount(cmd, account)
			return nil
		},
	}
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func findAccount(all map[string]*accounts.Account, query string) *accounts.Account {
	if a, ok := all[query]; ok {
		return a
	}
	for _, a := range all {
		if a.UserID == query || strings.EqualFold(a.UserName, query) {
			return a
		}
	}
	return nil
}

func printAccount(cmd *cobra.Command, a *accounts.Account) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:      %s (%s)\n", a.UserName, a.UserID)
	fmt.Fprintf(out, "Instance:  %s\n", a.InstanceURL)
	if a.CommunityURL != nil {
		fmt.Fprintf(out, "Community: %s (%s)\n", utils.Value(a.CommunityURL), utils.Value(a.CommunityID))
	}
	if a.Policy != nil {
		fmt.Fprintf(out, "Policy:    pin length %d, screen lock %d min\n", a.Policy.PinLength, a.Policy.ScreenLockTimeout)
	}
}

func printMetrics(cmd *cobra.Command, a *app) {
	families, err := a.registry.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
}
