package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var packsMarkdown bool

// packsCmd represents the packs command
var packsCmd = &cobra.Command{
	Use:   "packs",
	Short: "Fetch finished packs",
}

// packsGetCmd represents the packs get command
var packsGetCmd = &cobra.Command{
	Use:   "get <pack-id>",
	Short: "Get a finished pack",
	Long:  `Retrieve a finished content pack by its ID. --markdown prints the ready-to-publish markdown instead of the summary table.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPacksGet,
}

func init() {
	rootCmd.AddCommand(packsCmd)
	packsCmd.AddCommand(packsGetCmd)

	packsGetCmd.Flags().BoolVar(&packsMarkdown, "markdown", false, "print the pack markdown only")
}

type packResponse struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	Mode       string `json:"mode"`
	InputValue string `json:"input_value"`
	Language   string `json:"language"`
	Tone       string `json:"tone"`
	Genes      struct {
		Niche    string   `json:"niche"`
		Keywords []string `json:"keywords"`
		Angle    string   `json:"angle"`
		CTA      string   `json:"cta"`
	} `json:"genes"`
	Assets    map[string]string `json:"assets"`
	Dominance struct {
		Score   int      `json:"score"`
		Signals []string `json:"signals"`
		Risk    string   `json:"risk"`
	} `json:"dominance"`
	PackMarkdown string    `json:"pack_markdown"`
	CreatedAt    time.Time `json:"created_at"`
}

func runPacksGet(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/v1/packs/%s", GetServerURL(), args[0])

	var result packResponse
	if err := doRequest("GET", url, nil, &result); err != nil {
		return err
	}

	if packsMarkdown {
		fmt.Println(result.PackMarkdown)
		return nil
	}
	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Pack ID", result.ID)
	table.Append("Job ID", result.JobID)
	table.Append("Niche", result.Genes.Niche)
	table.Append("Language", result.Language)
	table.Append("Tone", result.Tone)
	table.Append("Dominance", fmt.Sprintf("%d (%s risk)", result.Dominance.Score, result.Dominance.Risk))

	platforms := make([]string, 0, len(result.Assets))
	for platform := range result.Assets {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	for _, platform := range platforms {
		table.Append("Asset", platform)
	}
	table.Append("Created At", result.CreatedAt.Format(time.RFC3339))

	table.Render()
	fmt.Printf("\nFull content: packctl packs get %s --markdown\n", result.ID)
	return nil
}
