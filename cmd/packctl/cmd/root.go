package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL    string
	outputFormat string
	workerToken  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "packctl",
	Short: "CLI for the packforge content scheduler",
	Long:  `packctl is a command line interface for submitting build jobs and inspecting packs on a packforged server.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "packforged API URL (default from PACKFORGE_SERVER or http://localhost:8009)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&workerToken, "token", "", "worker token for internal endpoints (default from WORKER_TICK_TOKEN)")
}

func initConfig() {
	viper.AutomaticEnv()
	viper.BindEnv("server", "PACKFORGE_SERVER")
	viper.BindEnv("token", "WORKER_TICK_TOKEN")

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8009"
	}
	if workerToken == "" {
		workerToken = viper.GetString("token")
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the HTTP client used for all API calls
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// doRequest performs one API call and decodes the JSON response into out.
// Non-2xx responses come back as errors carrying the body.
func doRequest(method, url string, body io.Reader, out interface{}) error {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if workerToken != "" {
		req.Header.Set("X-Worker-Token", workerToken)
	}

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to packforged API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
