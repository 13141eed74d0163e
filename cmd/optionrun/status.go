package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running instance",
		Long:  "Fetches the risk and anomaly status from a running instance's HTTP API.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return fetchStatus(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8787", "Base URL of the running instance")
	return cmd
}

func fetchStatus(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/status/risk", "/status/anomaly"} {
		resp, err := client.Get(addr + path)
		if err != nil {
			return fmt.Errorf("status: %s: %w", path, err)
		}
		fmt.Printf("== %s ==\n", path)
		_, err = io.Copy(os.Stdout, resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		fmt.Println()
	}
	return nil
}
