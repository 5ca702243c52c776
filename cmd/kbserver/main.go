package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatforge/knowledge/internal/models"
	"github.com/chatforge/knowledge/internal/types"
	"github.com/chatforge/knowledge/pkg/chunker"
	"github.com/chatforge/knowledge/pkg/config"
	"github.com/chatforge/knowledge/pkg/embedder"
	"github.com/chatforge/knowledge/pkg/fetcher"
	"github.com/chatforge/knowledge/pkg/llm"
	"github.com/chatforge/knowledge/pkg/pipeline"
	"github.com/chatforge/knowledge/pkg/store"
	"github.com/chatforge/knowledge/server"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	var seedChatbot string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&seedChatbot, "seed-chatbot", "", "Create a chatbot with this id on startup")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if validationErrs := cfg.Validate(); len(validationErrs) > 0 {
		for _, verr := range validationErrs {
			log.Printf("config error: %v", verr)
		}
		log.Fatal("invalid configuration")
	}

	ctx := context.Background()

	var vectors types.VectorStore
	var sources types.SourceStore
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPGStore(ctx, store.PGStoreConfig{
			ConnString: cfg.Database.URL,
			VectorDim:  cfg.Database.VectorDim,
			MaxChunks:  cfg.Pipeline.MaxChunks,
			StaleAfter: time.Duration(cfg.Pipeline.StaleAfterMinutes) * time.Minute,
		})
		if err != nil {
			log.Fatalf("failed to initialize store: %v", err)
		}
		defer pg.Close()
		vectors, sources = pg, pg
	default:
		mem := store.NewMemoryStore()
		mem.SetMaxChunks(cfg.Pipeline.MaxChunks)
		mem.SetStaleAfter(time.Duration(cfg.Pipeline.StaleAfterMinutes) * time.Minute)
		vectors, sources = mem, mem
	}

	if seedChatbot != "" {
		err := sources.CreateChatbot(ctx, &models.Chatbot{ID: seedChatbot, Name: seedChatbot})
		if err != nil {
			log.Fatalf("failed to seed chatbot: %v", err)
		}
	}

	emb, err := embedder.NewFromConfig(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
	})
	if err != nil {
		log.Fatalf("failed to initialize embedder: %v", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		SystemTemplate: cfg.LLM.SystemTemplate,
		BaseURL:        cfg.LLM.BaseURL,
	})
	if err != nil {
		log.Fatalf("failed to initialize chat engine: %v", err)
	}

	p := pipeline.New(
		chunker.NewWithConfig(chunker.Config{
			Size:    cfg.Pipeline.ChunkSize,
			Overlap: cfg.Pipeline.ChunkOverlap,
		}),
		emb,
		vectors,
		sources,
		pipeline.Config{
			TopK:          cfg.Pipeline.TopK,
			RetryAttempts: cfg.Pipeline.RetryAttempts,
			RetryDelay:    time.Duration(cfg.Pipeline.RetryDelayMS) * time.Millisecond,
		},
	)

	fetch := fetcher.NewWithConfig(fetcher.Config{
		RateLimit: cfg.Fetcher.RateLimit,
		Timeout:   time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
	})

	srv := server.New(p, sources, chatEngine, fetch)
	log.Printf("starting knowledge API server on %s", cfg.Server.Addr)
	if err := srv.Start(cfg.Server.Addr); err != nil {
		log.Fatal(err)
	}
}
