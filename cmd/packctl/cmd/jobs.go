package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	jobsStatusFilter string
	jobsLimit        int
	followStatus     bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect build jobs",
	Long:  `Commands for listing and polling build jobs on the packforged server.`,
}

// jobsListCmd represents the jobs list command
var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

// jobsStatusCmd represents the jobs status command
var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Long:  `Retrieve the status of a specific job by its ID. Polling a job also nudges the scheduler.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)

	jobsListCmd.Flags().StringVar(&jobsStatusFilter, "status", "", "filter by status (queued, running, done, failed)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum number of jobs to list")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

type jobResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	PackID       string     `json:"pack_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type jobsListResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Count int           `json:"count"`
}

func runJobsList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/v1/jobs?limit=%d", GetServerURL(), jobsLimit)
	if jobsStatusFilter != "" {
		url += "&status=" + jobsStatusFilter
	}

	var result jobsListResponse
	if err := doRequest("GET", url, nil, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	if result.Count == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Progress", "Pack", "Created", "Error")
	for _, job := range result.Jobs {
		table.Append(
			job.ID,
			job.Status,
			fmt.Sprintf("%.0f%%", job.Progress*100),
			job.PackID,
			job.CreatedAt.Format(time.RFC3339),
			job.ErrorMessage,
		)
	}
	table.Render()
	fmt.Printf("\nTotal: %d jobs\n", result.Count)
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if followStatus {
		return followJob(jobID)
	}

	result, err := fetchJobStatus(jobID)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(result)
	}
	displayJobStatus(result)
	return nil
}

func fetchJobStatus(jobID string) (*jobResponse, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s", GetServerURL(), jobID)
	var result jobResponse
	if err := doRequest("GET", url, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func displayJobStatus(job *jobResponse) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Job ID", job.ID)
	table.Append("Status", job.Status)
	table.Append("Progress", fmt.Sprintf("%.0f%%", job.Progress*100))
	if job.PackID != "" {
		table.Append("Pack ID", job.PackID)
	}
	if job.ErrorMessage != "" {
		table.Append("Error", job.ErrorMessage)
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		table.Append("Started At", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		table.Append("Finished At", job.FinishedAt.Format(time.RFC3339))
	}

	table.Render()
}
