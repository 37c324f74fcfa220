// Command ihegw runs IHE cross-community transactions from the command
// line and serves the inbound XCPD responder.
//
// Usage:
//
//	ihegw pd --config gateway.yaml --request discovery.json
//	ihegw dq --config gateway.yaml --request queries.json
//	ihegw dr --config gateway.yaml --request retrievals.json
//	ihegw verify --cert gateway.pem signed.xml
//	ihegw report --config gateway.yaml dq
//	ihegw serve --config gateway.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ihegw",
		Short:         "IHE XCPD/XCA initiating and responding gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("config", "gateway.yaml", "Path to the configuration file")

	rootCmd.AddCommand(patientDiscoveryCmd())
	rootCmd.AddCommand(documentQueryCmd())
	rootCmd.AddCommand(documentRetrievalCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
