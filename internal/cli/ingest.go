package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docground/internal/app"
)

var (
	ingestWorkers int
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest files into the session",
	Long: `Uploads each file, runs extraction (with OCR for scanned PDFs), chunking
and embedding, and waits until every document is ready or failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 2, "documents processed in parallel")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "give up waiting after this long")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	c, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Ingestor.Start(ctx, ingestWorkers)

	var ids []string
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := c.Documents.Upload(ctx, sessionID, filepath.Base(path), "", data)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		if res.Duplicate {
			cmd.Printf("%s already ingested as %s (%s)\n", path, res.Document.ID, res.Document.Status)
			continue
		}
		ids = append(ids, res.Document.ID)
	}

	if err := app.WaitForTerminal(ctx, c.Store, ids, 250*time.Millisecond); err != nil {
		return fmt.Errorf("waiting for ingestion: %w", err)
	}

	failed := 0
	for _, id := range ids {
		doc, err := c.Documents.Get(ctx, sessionID, id)
		if err != nil {
			return err
		}
		if doc.FailureReason != "" {
			failed++
			cmd.Printf("%s  %s  %s (%s)\n", doc.ID, doc.FileName, doc.Status, doc.FailureReason)
			continue
		}
		cmd.Printf("%s  %s  %s, %d chunks via %s\n", doc.ID, doc.FileName, doc.Status, doc.ChunkCount, doc.EmbeddingProvider)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents could not be processed", failed, len(ids))
	}
	return nil
}
