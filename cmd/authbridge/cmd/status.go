package cmd

import (
	"fmt"

	"authbridge/pkg/session"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current authentication state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	mgr := session.NewManager(cfg, session.WithLogger(log))

	user, err := mgr.RestoreSession(cmd.Context())
	if err != nil {
		return fmt.Errorf("could not restore session: %w", err)
	}
	if user == nil {
		fmt.Printf("❌ Not signed in\n")
		fmt.Printf("   Run 'authbridge login' to authenticate.\n")
		return nil
	}

	st := mgr.AuthStatus()
	fmt.Printf("✅ Signed in\n")
	printUser(user)
	if !st.SessionValid {
		fmt.Printf("   ⚠️  Session has expired; run 'authbridge login' to refresh.\n")
	}
	return nil
}
