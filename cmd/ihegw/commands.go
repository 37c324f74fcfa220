package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ihe/internal/report"
	"github.com/sirosfoundation/go-ihe/internal/server"
	"github.com/sirosfoundation/go-ihe/pkg/security"
)

// ErrInvalidSignature is returned by verify for a document that fails validation
var ErrInvalidSignature = errors.New("invalid signature")

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <signed.xml>",
		Short: "Verify the XML signatures of a signed SOAP envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certPath, _ := cmd.Flags().GetString("cert")
			cert, err := os.ReadFile(certPath)
			if err != nil {
				return fmt.Errorf("reading certificate: %w", err)
			}
			signed, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading signed document: %w", err)
			}
			if err := security.Validate(string(signed), string(cert)); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature valid")
			return nil
		},
	}
	cmd.Flags().String("cert", "", "PEM certificate of the signer")
	_ = cmd.MarkFlagRequired("cert")
	return cmd
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "report [pd|dq|dr]",
		Short:     "Summarize success rates of recently recorded requests",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"pd", "dq", "dr"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			store, err := a.reportStore(ctx)
			if err != nil {
				return err
			}
			gen := report.NewGenerator(store, a.logger)

			transactions := args
			if len(transactions) == 0 {
				transactions = []string{"pd", "dq", "dr"}
			}
			out := make(map[string]report.Summary, len(transactions))
			for _, t := range transactions {
				summary, err := gen.ForTransaction(ctx, t)
				if err != nil {
					return err
				}
				out[t] = summary
			}
			if len(args) == 1 {
				return writeJSON(cmd.OutOrStdout(), out[args[0]])
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the inbound XCPD responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if err := a.loadIdentity(ctx); err != nil {
				return err
			}
			if a.cfg.Server.RequireClientCert {
				if a.tls.ClientCAs == nil {
					return fmt.Errorf("server.requireClientCert needs trustBundle.file")
				}
				a.tls.ClientAuth = tls.RequireAndVerifyClientCert
			}
			a.tls.Timeout = 30 * time.Second

			srv := server.New(server.Config{
				HomeCommunityID: a.cfg.Server.HomeCommunityID,
				Validity:        a.cfg.Gateway.TimestampValidity,
				Matcher:         server.NoMatch{},
				Logger:          a.logger,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(a.cfg.Server.Addr, a.tls)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
