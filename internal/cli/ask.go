package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Ask a question about the session's documents",
	Long: `Retrieves the passages most similar to the query, routes it to an agent
and prints the generated answer with its sources.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Chat == nil {
		return errors.New("chat is not configured: set GEMINI_API_KEY")
	}

	answer, err := c.Chat.Ask(ctx, sessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if askJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	cmd.Println(answer.Text)
	if len(answer.Sources) == 0 {
		return nil
	}
	cmd.Println()
	cmd.Printf("Sources (%s):\n", answer.Agent)
	for i, s := range answer.Sources {
		cmd.Printf("  [%d] %s, chunks %d-%d (%.2f)\n", i+1, s.FileName, s.FirstSeq, s.LastSeq, s.Score)
	}
	return nil
}
