package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall" // For reading password securely

	"github.com/spf13/cobra"
	"golang.org/x/term" // For reading password
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the authenticated session",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and persist the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.auth.Close()

		fmt.Print("Enter email: ")
		reader := bufio.NewReader(os.Stdin)
		email, _ := reader.ReadString('\n')
		email = strings.TrimSpace(email)

		fmt.Print("Enter password: ")
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // Newline after password input
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		if err := a.auth.SignIn(cmd.Context(), email, string(bytePassword)); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		sess, _ := a.auth.Session()
		fmt.Printf("Login successful. Session %s persisted.\n", sess.SessionID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out, clearing local credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.auth.Close()

		// Local logout always succeeds; server-side revocation is best-effort.
		a.auth.SignOut(cmd.Context())
		fmt.Println("Signed out.")
		return nil
	},
}

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(authCmd)
}
