// Command console is a terminal client for the command console server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	secret    string
	subject   string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Terminal client for the command console",
	Long: `console talks to a command console server over its websocket.

Run "console chat" for an interactive session, or "console token" to mint a
development token signed with the server's AUTH_JWT_SECRET.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CONSOLE_SERVER", "ws://localhost:8080/ws"), "websocket URL of the server")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CONSOLE_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 secret used to mint a token when --token is empty")
	rootCmd.PersistentFlags().StringVar(&subject, "subject", envOr("CONSOLE_SUBJECT", "dev-user"), "subject of minted tokens")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "dial timeout")

	rootCmd.AddCommand(chatCmd, tokenCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
