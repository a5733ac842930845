package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	brokerURL  string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vela",
		Short: "Vela cost-based job router and elasticity controller",
		Long:  "Run the job router and queue-depth elasticity controller via the daemon command",
	}

	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker-url", "", "Broker connection URL (amqp:// or redis://)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML)")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
