// Package main implements the researchctl CLI for manual operations against
// the researchd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the researchd HTTP server
	serverURL string
	// maxIterations for the start command
	maxIterations int
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "researchctl",
	Short: "CLI for researchd HTTP server operations",
	Long: `researchctl is a command-line interface for interacting with the researchd
HTTP server. It starts research workflows and inspects their task records.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8006", "researchd server URL")
	startCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "maximum research iterations (0 uses the server default)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(healthCmd)
}

// startCmd starts a new research workflow
var startCmd = &cobra.Command{
	Use:   "start <topic>",
	Short: "Start a research workflow",
	Long: `Start a research workflow for a topic.

Examples:
  # Start with the server's default iteration budget
  researchctl start "impact of tidal energy on coastal ecosystems"

  # Allow up to three research iterations
  researchctl start --max-iterations 3 "history of the fair use doctrine"`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

// statusCmd fetches one task record
var statusCmd = &cobra.Command{
	Use:   "status <task_id>",
	Short: "Show the full record of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

// listCmd lists all known tasks
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// cancelCmd cancels a running workflow
var cancelCmd = &cobra.Command{
	Use:   "cancel <task_id>",
	Short: "Cancel a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check researchd server health",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runStart(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]any{
		"topic":          args[0],
		"max_iterations": maxIterations,
	})
	if err != nil {
		return err
	}

	resp, err := httpClient().Post(serverURL+"/api/v1/research", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printResponse(resp, http.StatusAccepted)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/api/v1/tasks/" + args[0])
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printResponse(resp, http.StatusOK)
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/api/v1/tasks")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printResponse(resp, http.StatusOK)
}

func runCancel(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Post(serverURL+"/api/v1/tasks/"+args[0]+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printResponse(resp, http.StatusAccepted)
}

func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printResponse(resp, http.StatusOK)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// printResponse pretty-prints the JSON body and errors on unexpected status.
func printResponse(resp *http.Response, wantStatus int) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
