package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// stateCmd and saveCmd talk to a running server's loopback admin endpoints.
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print a running server's world state and metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminRequest(cmd, http.MethodGet, "/admin/v1/state", 5*time.Second)
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Ask a running server to write a snapshot now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminRequest(cmd, http.MethodPost, "/admin/v1/snapshot", 10*time.Second)
	},
}

// adminRequest prints the response body; a non-2xx status is an error.
func adminRequest(cmd *cobra.Command, method, path string, timeout time.Duration) error {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequestWithContext(cmd.Context(), method, u, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
