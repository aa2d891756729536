package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docground/internal/app"
	"github.com/markdave123-py/docground/internal/core/agents"
	"github.com/markdave123-py/docground/internal/core/database/sqlite"
	"github.com/markdave123-py/docground/internal/core/embedding"
	"github.com/markdave123-py/docground/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/docground/internal/core/object-client"
	"github.com/markdave123-py/docground/internal/core/retrieval"
	"github.com/markdave123-py/docground/internal/models"
	"github.com/markdave123-py/docground/internal/services"
)

type constEmbedder struct{}

func (constEmbedder) Name() string { return "fake/const" }

func (constEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, _, userPrompt string) (string, error) {
	if strings.Contains(userPrompt, "14 days") {
		return "Refunds take 14 days.", nil
	}
	return "I could not find that in your documents.", nil
}

// setupTestComponents points the commands at a SQLite file in a temp dir
// and fake providers. withChat controls whether the ask command has an LLM.
func setupTestComponents(t *testing.T, withChat bool) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")

	orig := openComponents
	openComponents = func(ctx context.Context) (*app.Components, error) {
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		objects := objectclient.NewMemoryClient()
		adapter, err := embedding.NewAdapter(embedding.Config{}, constEmbedder{})
		if err != nil {
			return nil, err
		}
		ingestor, err := ingestion_engine.NewDocumentIngestor(store, objects, store, adapter,
			ingestion_engine.NewDocconvExtractor(ingestion_engine.ExtractorConfig{}, nil, nil),
			ingestion_engine.IngestConfig{ChunkSize: 200, ChunkOverlap: 20})
		if err != nil {
			return nil, err
		}
		c := &app.Components{
			Store:     store,
			Objects:   objects,
			Embedder:  adapter,
			Ingestor:  ingestor,
			Retriever: retrieval.NewRetriever(store, store, adapter, retrieval.Config{TopK: 3}),
			Documents: services.NewDocumentService(store, objects, store, ingestor, "docs"),
		}
		if withChat {
			registry, err := agents.LoadRegistry("")
			if err != nil {
				return nil, err
			}
			c.Chat = services.NewChatService(c.Retriever, agents.NewRouter(registry), agents.NewGenerator(echoLLM{}, time.Second))
		}
		return c, nil
	}

	t.Cleanup(func() {
		openComponents = orig
		statusJSON = false
		askJSON = false
		sessionID = "cli"
		rootCmd.SetArgs(nil)
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["ingest"])
	assert.True(t, names["ask"])
	assert.True(t, names["status"])
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("session")
	require.NotNil(t, flag)
	assert.Equal(t, "cli", flag.DefValue)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("db"))
}

func TestIngestCmd_RequiresFile(t *testing.T) {
	setupTestComponents(t, false)

	_, err := execute(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s)")
}

func TestIngestCmd_MissingFile(t *testing.T) {
	setupTestComponents(t, false)

	_, err := execute(t, "ingest", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.txt")
}

func TestIngestThenStatus(t *testing.T) {
	setupTestComponents(t, false)
	path := writeFile(t, "policy.txt", "Refunds are issued within 14 days of receiving the returned item.")

	out, err := execute(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "policy.txt")
	assert.Contains(t, out, "ready, 1 chunks via fake/const")

	out, err = execute(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already ingested")

	out, err = execute(t, "status", "--json")
	require.NoError(t, err)
	var docs []models.Document
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusReady, docs[0].Status)
	assert.Equal(t, "cli", docs[0].SessionID)
}

func TestStatusCmd_IsScopedToSession(t *testing.T) {
	setupTestComponents(t, false)
	path := writeFile(t, "notes.txt", "Meeting notes from the quarterly planning review.")

	_, err := execute(t, "--session", "alpha", "ingest", path)
	require.NoError(t, err)

	out, err := execute(t, "--session", "beta", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents in this session.")

	out, err = execute(t, "--session", "alpha", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "ready")
}

func TestIngestCmd_ReportsFailedDocument(t *testing.T) {
	setupTestComponents(t, false)
	path := writeFile(t, "empty.txt", "   \n\t ")

	out, err := execute(t, "ingest", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 documents could not be processed")
	assert.Contains(t, out, "failed")
}

func TestAskCmd_WithoutChat(t *testing.T) {
	setupTestComponents(t, false)

	_, err := execute(t, "ask", "how long do refunds take?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestAskCmd_PrintsAnswerAndSources(t *testing.T) {
	setupTestComponents(t, true)
	path := writeFile(t, "policy.txt", "Refunds are issued within 14 days of receiving the returned item.")

	_, err := execute(t, "ingest", path)
	require.NoError(t, err)

	out, err := execute(t, "ask", "how", "long", "do", "refunds", "take?")
	require.NoError(t, err)
	assert.Contains(t, out, "Refunds take 14 days.")
	assert.Contains(t, out, "Sources (")
	assert.Contains(t, out, "policy.txt")
}

func TestAskCmd_JSON(t *testing.T) {
	setupTestComponents(t, true)
	path := writeFile(t, "policy.txt", "Refunds are issued within 14 days of receiving the returned item.")

	_, err := execute(t, "ingest", path)
	require.NoError(t, err)

	out, err := execute(t, "ask", "--json", "how long do refunds take?")
	require.NoError(t, err)

	var answer models.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &answer))
	assert.Equal(t, "Refunds take 14 days.", answer.Text)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "policy.txt", answer.Sources[0].FileName)
}
