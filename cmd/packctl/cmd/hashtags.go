package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// hashtagsCmd represents the hashtags command
var hashtagsCmd = &cobra.Command{
	Use:   "hashtags",
	Short: "Show the trending hashtag report",
	RunE:  runHashtags,
}

func init() {
	rootCmd.AddCommand(hashtagsCmd)
}

func runHashtags(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/v1/trending-hashtags", GetServerURL())

	var result struct {
		Hashtags []struct {
			Tag   string `json:"tag"`
			Score int    `json:"score"`
		} `json:"hashtags"`
		GeneratedAt string `json:"generated_at"`
	}
	if err := doRequest("GET", url, nil, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Hashtag", "Score")
	for _, h := range result.Hashtags {
		table.Append(h.Tag, fmt.Sprintf("%d", h.Score))
	}
	table.Render()
	return nil
}
