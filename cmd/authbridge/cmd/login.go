package cmd

import (
	"context"
	"fmt"
	"os"

	"authbridge/pkg/browser"
	"authbridge/pkg/deeplink"
	"authbridge/pkg/session"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate through the system browser",
	Long: `Authenticate with the configured identity provider.

A loopback listener receives the callback, so no custom URI scheme
registration is needed for CLI use.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	mgr := session.NewManager(cfg, session.WithLogger(log))

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LoginTTL)
	defer cancel()

	listener := deeplink.NewListener(deeplink.WithListenerLogger(log))
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Close()

	intent, err := mgr.StartLoginRedirect(listener.URL())
	if err != nil {
		return err
	}

	fmt.Printf("🔐 Opening browser for authentication...\n\n")
	if err := browser.Open(intent.AuthURL); err != nil {
		fmt.Fprintf(os.Stderr, "Could not open browser: %v\n", err)
		fmt.Printf("\nPlease visit this URL manually:\n%s\n\n", intent.AuthURL)
	} else {
		fmt.Printf("If browser doesn't open, visit:\n%s\n\n", intent.AuthURL)
	}

	fmt.Printf("⏳ Waiting for authentication to complete...\n")

	cb, err := listener.Wait(ctx)
	if err != nil {
		return fmt.Errorf("authentication did not complete: %w", err)
	}

	res := mgr.ProcessCallback(ctx, cb.Token, cb.State)
	if !res.Authenticated {
		return fmt.Errorf("authentication failed: %w", res.Err)
	}

	fmt.Printf("\n✅ Authentication successful!\n")
	printUser(res.User)
	return nil
}

func printUser(u *session.User) {
	if u.Name != "" {
		fmt.Printf("   Signed in as %s", u.Name)
	} else {
		fmt.Printf("   Signed in as %s", u.ID)
	}
	if u.Email != "" {
		fmt.Printf(" <%s>", u.Email)
	}
	fmt.Println()
}
