package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List documents and their ingestion status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output documents as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	docs, err := c.Documents.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}

	if statusJSON {
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal documents: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if len(docs) == 0 {
		cmd.Println("No documents in this session.")
		return nil
	}
	for _, d := range docs {
		line := fmt.Sprintf("%s  %-30s  %-10s", d.ID, d.FileName, d.Status)
		if d.FailureReason != "" {
			line += "  " + d.FailureReason
		}
		if d.ChunkCount > 0 {
			line += fmt.Sprintf("  %d chunks", d.ChunkCount)
		}
		cmd.Println(line)
	}
	return nil
}
