package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	submitInput     string
	submitMode      string
	submitLanguage  string
	submitTone      string
	submitPlatforms []string
	submitSync      bool
	submitWait      bool
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a pack build job",
	Long:  `Submit a new content pack build to the packforged server. By default the job is queued and its ID printed; --wait polls until it finishes.`,
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitInput, "input", "", "niche or keyword to build for (required)")
	submitCmd.Flags().StringVar(&submitMode, "mode", "niche", "build mode (niche or keyword)")
	submitCmd.Flags().StringVar(&submitLanguage, "language", "ar", "content language (ar or en)")
	submitCmd.Flags().StringVar(&submitTone, "tone", "Authority", "content tone")
	submitCmd.Flags().StringSliceVar(&submitPlatforms, "platforms", []string{"TikTok", "X", "LinkedIn"}, "target platforms")
	submitCmd.Flags().BoolVar(&submitSync, "sync", false, "build inline and return the pack in one call")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "poll job status every 2 seconds until completion")
	submitCmd.MarkFlagRequired("input")
}

type buildRequest struct {
	Mode      string   `json:"mode,omitempty"`
	Input     string   `json:"input"`
	Language  string   `json:"language,omitempty"`
	Tone      string   `json:"tone,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	Sync      bool     `json:"sync,omitempty"`
}

type submitResponse struct {
	OK     bool   `json:"ok"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req := buildRequest{
		Mode:      submitMode,
		Input:     submitInput,
		Language:  submitLanguage,
		Tone:      submitTone,
		Platforms: submitPlatforms,
		Sync:      submitSync,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/build-pack", GetServerURL())

	if submitSync {
		var result struct {
			Job  jobResponse     `json:"job"`
			Pack json.RawMessage `json:"pack"`
		}
		if err := doRequest("POST", url, bytes.NewBuffer(reqBody), &result); err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(result)
		}
		displayJobStatus(&result.Job)
		return nil
	}

	var result submitResponse
	if err := doRequest("POST", url, bytes.NewBuffer(reqBody), &result); err != nil {
		return err
	}

	if submitWait {
		return followJob(result.JobID)
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", result.JobID)
	table.Append("Status", result.Status)
	table.Render()
	fmt.Printf("\nJob submitted, poll with: packctl jobs status %s\n", result.JobID)
	return nil
}

func followJob(jobID string) error {
	fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
	for {
		result, err := fetchJobStatus(jobID)
		if err != nil {
			return err
		}

		fmt.Print("\033[H\033[2J")
		displayJobStatus(result)

		if result.Status == "done" || result.Status == "failed" {
			fmt.Println("\nJob reached terminal state")
			if result.Status == "done" && result.PackID != "" {
				fmt.Printf("Fetch the pack with: packctl packs get %s\n", result.PackID)
			}
			return nil
		}

		time.Sleep(2 * time.Second)
	}
}
