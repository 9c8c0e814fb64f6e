package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes reported to the shell or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// configError marks failures that happen before anything was started.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomsync: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	var envFile string

	root := &cobra.Command{
		Use:   "roomsync",
		Short: "Realtime chat room synchronization",
		Long: `roomsync serves chat rooms over HTTP and websocket and ships a
terminal client that keeps one room in sync: ordered messages,
typing indicators and the online list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return configError{fmt.Errorf("load %s: %w", envFile, err)}
				}
				return nil
			}
			// A missing .env is fine.
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "read environment from this file instead of ./.env")
	root.AddCommand(serveCmd(), chatCmd())
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		var cerr configError
		if errors.As(err, &cerr) {
			return exitConfig, err
		}
		return exitRuntime, err
	}
	return exitOK, nil
}
