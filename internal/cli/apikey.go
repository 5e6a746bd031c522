package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newApikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the API key that protects the HTTP and MCP endpoints",
	}
	cmd.AddCommand(newApikeyGenerateCmd())
	return cmd
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// appendEnv appends KEY=value to an env file, creating it private.
func appendEnv(path, key, value string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%s=%s\n", key, value); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func newApikeyGenerateCmd() *cobra.Command {
	var (
		envFile string
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := generateAPIKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if envFile != "" {
				if err := appendEnv(envFile, "AGENTORCH_API_KEY", key); err != nil {
					return err
				}
			}
			if quiet {
				_, _ = fmt.Fprintln(out, key)
				return nil
			}

			_, _ = fmt.Fprintln(out, "Generated API key (save it somewhere safe):")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+key)
			_, _ = fmt.Fprintln(out)
			if envFile != "" {
				_, _ = fmt.Fprintf(out, "Appended AGENTORCH_API_KEY to %s\n", envFile)
				_, _ = fmt.Fprintln(out, "Start the server with: agentorch serve --env-file "+envFile)
			} else {
				_, _ = fmt.Fprintln(out, "Set AGENTORCH_API_KEY="+key+" for both the server and the agentorch CLI.")
				_, _ = fmt.Fprintln(out, "Other clients send it as the X-API-Key header.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Append AGENTORCH_API_KEY to this file (e.g. .env)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the key")
	return cmd
}
