package main

import (
	"fmt"
	"os"
	"time"

	logpkg "registro-pacientes/common/logger"
	"registro-pacientes/internal/client"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

type rootOptions struct {
	server  string
	timeout time.Duration
	logger  *zap.Logger
}

func (o *rootOptions) client() *client.Client {
	return client.NewClient(o.server, o.timeout, o.logger)
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "registro-ctl",
		Short:   "Command line client for the registro-pacientes service",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := os.Getenv("LOG_LEVEL")
			if level == "" {
				level = "warn"
			}
			log, err := logpkg.NewLogger(level, "console", "registro-ctl")
			if err != nil {
				return err
			}
			opts.logger = log
			return nil
		},
		SilenceUsage: true,
	}

	server := os.Getenv("REGISTRO_SERVER")
	if server == "" {
		server = "http://localhost:8090"
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Service base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(exportCmd(opts))
	rootCmd.AddCommand(importCmd(opts))
	rootCmd.AddCommand(reportCmd(opts))
	rootCmd.AddCommand(summaryCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
