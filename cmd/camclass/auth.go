package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"camclass/pkg/auth"
)

// authCmd groups credential management commands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage inference endpoint credentials",
	Long: `Manage stored credentials for the classification endpoint.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (CAMCLASS_API_TOKEN, read-only)`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store an inference API credential",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "default"
		if len(args) == 1 {
			name = args[0]
		}

		reader := bufio.NewReader(os.Stdin)

		fmt.Print("Endpoint URL: ")
		endpointURL, err := reader.ReadString('\n')
		if err != nil {
			return err
		}

		fmt.Print("API token: ")
		var token string
		if term.IsTerminal(int(syscall.Stdin)) {
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return err
			}
			token = string(raw)
		} else {
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			token = line
		}

		manager, err := auth.NewManager()
		if err != nil {
			return err
		}

		cred := &auth.Credential{
			Name:     name,
			Endpoint: strings.TrimSpace(endpointURL),
			Token:    strings.TrimSpace(token),
		}
		if err := manager.Store(cred); err != nil {
			return err
		}

		fmt.Printf("Credential %q stored\n", name)
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return err
		}

		creds, err := manager.List()
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No credentials stored. Run 'camclass auth login' to add one.")
			return nil
		}

		for _, cred := range creds {
			endpointInfo := cred.Endpoint
			if endpointInfo == "" {
				endpointInfo = "(endpoint from config)"
			}
			fmt.Printf("%-20s %s\n", cred.Name, endpointInfo)
		}
		return nil
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return err
		}

		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Credential %q removed\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRemoveCmd)
}
