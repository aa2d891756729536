package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/markdave123-py/docground/internal/config"
	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/agents"
	db "github.com/markdave123-py/docground/internal/core/database"
	"github.com/markdave123-py/docground/internal/core/database/memory"
	"github.com/markdave123-py/docground/internal/core/database/sqlite"
	"github.com/markdave123-py/docground/internal/core/embedding"
	"github.com/markdave123-py/docground/internal/core/ingestion_engine"
	"github.com/markdave123-py/docground/internal/core/llm"
	objectclient "github.com/markdave123-py/docground/internal/core/object-client"
	"github.com/markdave123-py/docground/internal/core/ocr"
	"github.com/markdave123-py/docground/internal/core/retrieval"
	"github.com/markdave123-py/docground/internal/core/vectorindex"
	"github.com/markdave123-py/docground/internal/services"
)

// Store is a document store that also serves as the vector index.
type Store interface {
	core.DbClient
	core.VectorIndex
	io.Closer
}

// OpenStore connects the backend selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		client, err := db.NewDatabaseClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreDriverMemory:
		log.Println("WARN: STORE_DRIVER=memory, documents and vectors are lost on restart")
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

type memoryStore struct {
	*memory.Store
	*vectorindex.MemoryIndex
}

// NewMemoryStore pairs the in-process document store with the in-process vector index.
func NewMemoryStore() Store {
	return memoryStore{Store: memory.NewStore(), MemoryIndex: vectorindex.NewMemoryIndex()}
}

func (memoryStore) Close() error { return nil }

// OpenObjectClient uses S3 when credentials are configured and process
// memory otherwise.
func OpenObjectClient(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	if cfg.AwsAccessKey == "" && cfg.AwsSecretKey == "" {
		log.Println("WARN: AWS credentials not set, raw uploads are kept in memory and lost on restart")
		return objectclient.NewMemoryClient(), nil
	}
	client, err := objectclient.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Components is the wired pipeline shared by the HTTP service and the CLI.
type Components struct {
	Store     Store
	Objects   core.ObjectClient
	Embedder  *embedding.Adapter
	Ingestor  *ingestion_engine.DocumentIngestor
	Retriever *retrieval.Retriever
	Documents *services.DocumentService
	// Chat is nil when no completion provider is configured.
	Chat *services.ChatService

	closers []io.Closer
}

// Build wires every component on top of an open store and object client.
func Build(ctx context.Context, cfg *config.Config, store Store, objects core.ObjectClient) (*Components, error) {
	c := &Components{Store: store, Objects: objects}

	providers, err := c.embeddingProviders(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Embedder, err = embedding.NewAdapter(embedding.Config{
		BatchSize:   cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxAttempts,
		BackoffBase: cfg.EmbedBackoffBase,
		Timeout:     cfg.EmbedTimeout,
		RatePerSec:  cfg.EmbedRatePerSec,
	}, providers...)
	if err != nil {
		c.Close()
		return nil, err
	}
	log.Printf("Embedding providers in priority order: %v", c.Embedder.Providers())

	extractor := ingestion_engine.NewDocconvExtractor(ingestion_engine.ExtractorConfig{
		MinCharsPerPage: cfg.OCRMinCharsPerPage,
		OCRTimeout:      cfg.OCRTimeout,
	}, ocr.NewPopplerRenderer(ocr.ExecRunner{}, ocr.DefaultDPI), ocr.NewTesseract(cfg.OCRLanguageList()...))

	c.Ingestor, err = ingestion_engine.NewDocumentIngestor(store, objects, store, c.Embedder, extractor, ingestion_engine.IngestConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Retriever = retrieval.NewRetriever(store, store, c.Embedder, retrieval.Config{
		TopK:            cfg.RetrievalTopK,
		MinSimilarity:   cfg.RetrievalMinSimilarity,
		QueryVariations: cfg.RetrievalQueryVariations,
	})
	c.Documents = services.NewDocumentService(store, objects, store, c.Ingestor, cfg.BucketName)

	registry, err := agents.LoadRegistry(cfg.AgentsFile)
	if err != nil {
		c.Close()
		return nil, err
	}
	log.Printf("Agents loaded: %v", registry.Names())

	if cfg.AIAPIKey != "" {
		gen, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		c.closers = append(c.closers, gen)
		c.Chat = services.NewChatService(c.Retriever, agents.NewRouter(registry), agents.NewGenerator(gen, cfg.GenerationTimeout))
	} else {
		log.Println("WARN: GEMINI_API_KEY not set, chat is disabled")
	}

	return c, nil
}

func (c *Components) embeddingProviders(ctx context.Context, cfg *config.Config) ([]core.EmbeddingProvider, error) {
	var providers []core.EmbeddingProvider

	if cfg.AIAPIKey != "" {
		gemini, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		c.closers = append(c.closers, gemini)
		providers = append(providers, gemini)
	}

	if cfg.FallbackEmbedKey != "" {
		fallback, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
			APIKey:  cfg.FallbackEmbedKey,
			BaseURL: cfg.FallbackEmbedURL,
			Model:   cfg.FallbackEmbedModel,
			Timeout: cfg.EmbedTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the fallback embedder, %w", err)
		}
		providers = append(providers, fallback)
	}

	if len(providers) == 0 {
		return nil, errors.New("no embedding provider configured: set GEMINI_API_KEY or FALLBACK_EMBED_API_KEY")
	}
	return providers, nil
}

// Close releases provider clients and the store.
func (c *Components) Close() {
	for _, cl := range c.closers {
		_ = cl.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// WaitForTerminal polls until every listed document is ready or failed.
func WaitForTerminal(ctx context.Context, store core.DbClient, ids []string, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		pending := 0
		for _, id := range ids {
			doc, err := store.GetDocumentByID(ctx, id)
			if err != nil {
				return err
			}
			if !doc.Status.Terminal() {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
