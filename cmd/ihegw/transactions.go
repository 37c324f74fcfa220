package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ihe/pkg/ihe"
)

// readRequests decodes a JSON file holding one request or an array of them
func readRequests[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var reqs []*T
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, fmt.Errorf("decoding requests: %w", err)
		}
		return reqs, nil
	}
	req := new(T)
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return []*T{req}, nil
}

func requestFlag(cmd *cobra.Command) {
	cmd.Flags().String("request", "", "Path to the JSON request file")
	_ = cmd.MarkFlagRequired("request")
}

func patientDiscoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pd",
		Short: "Run cross-gateway patient discovery (ITI-55) against every gateway of a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("request")
			reqs, err := readRequests[ihe.PatientDiscoveryRequest](path)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			var out []*ihe.PatientDiscoveryResponse
			for _, req := range reqs {
				results, err := client.DiscoverPatients(ctx, req)
				if err != nil {
					return err
				}
				out = append(out, results...)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	requestFlag(cmd)
	return cmd
}

func documentQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dq",
		Short: "Run cross-gateway document queries (ITI-38)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("request")
			reqs, err := readRequests[ihe.DocumentQueryRequest](path)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), client.QueryAll(ctx, reqs))
		},
	}
	requestFlag(cmd)
	return cmd
}

func documentRetrievalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dr",
		Short: "Run cross-gateway document retrievals (ITI-39) and store the documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("request")
			reqs, err := readRequests[ihe.DocumentRetrievalRequest](path)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), client.RetrieveAll(ctx, reqs))
		},
	}
	requestFlag(cmd)
	return cmd
}
