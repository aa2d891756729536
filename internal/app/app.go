package app

import (
	"context"
	"log"
	"time"

	"github.com/markdave123-py/docground/internal/config"
)

type App struct {
	*Components
	Server *Server
	cfg    *config.Config
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := OpenStore(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("Database (%s) initialized and ready.", cfg.StoreDriver)

	objects, err := OpenObjectClient(appCtx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	// provider clients outlive the startup timeout
	components, err := Build(ctx, cfg, store, objects)
	if err != nil {
		return nil, err
	}

	server := NewServer(cfg, components)
	return &App{Components: components, Server: server, cfg: cfg}, nil
}

// Start launches the ingestion workers and the HTTP server. Workers stop
// when ctx ends.
func (a *App) Start(ctx context.Context) {
	a.Ingestor.Start(ctx, a.cfg.IngestWorkers)
	go a.Server.Start()
}
