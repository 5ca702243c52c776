package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/chatforge/knowledge/internal/models"
	"github.com/chatforge/knowledge/internal/types"
	"github.com/chatforge/knowledge/pkg/chunker"
	"github.com/chatforge/knowledge/pkg/config"
	"github.com/chatforge/knowledge/pkg/embedder"
	"github.com/chatforge/knowledge/pkg/fetcher"
	"github.com/chatforge/knowledge/pkg/llm"
	"github.com/chatforge/knowledge/pkg/pipeline"
	"github.com/chatforge/knowledge/pkg/store"
)

type options struct {
	ConfigPath string
	ChatbotID  string
	URL        string
	Files      []string
}

func main() {
	_ = godotenv.Load()

	opts := parseFlags()
	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.ChatbotID, "chatbot", "default", "Chatbot id to ingest into and chat with")
	flag.StringVar(&opts.URL, "url", "", "URL to ingest before chatting")
	flag.Parse()
	opts.Files = flag.Args()
	return opts
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(opts options) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if validationErrs := cfg.Validate(); len(validationErrs) > 0 {
		for _, verr := range validationErrs {
			color.Red("config error: %v", verr)
		}
		return fmt.Errorf("invalid configuration")
	}

	ctx := context.Background()

	var vectors types.VectorStore
	var sources types.SourceStore
	if cfg.Database.Driver == "postgres" {
		pg, err := store.NewPGStore(ctx, store.PGStoreConfig{
			ConnString: cfg.Database.URL,
			VectorDim:  cfg.Database.VectorDim,
			MaxChunks:  cfg.Pipeline.MaxChunks,
			StaleAfter: time.Duration(cfg.Pipeline.StaleAfterMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		defer pg.Close()
		vectors, sources = pg, pg
	} else {
		mem := store.NewMemoryStore()
		mem.SetMaxChunks(cfg.Pipeline.MaxChunks)
		vectors, sources = mem, mem
	}

	if err := sources.CreateChatbot(ctx, &models.Chatbot{ID: opts.ChatbotID, Name: opts.ChatbotID}); err != nil {
		return fmt.Errorf("failed to create chatbot: %w", err)
	}

	emb, err := embedder.NewFromConfig(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		SystemTemplate: cfg.LLM.SystemTemplate,
		BaseURL:        cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
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

	if len(opts.Files) > 0 {
		if err := ingestFiles(ctx, p, sources, opts.ChatbotID, opts.Files); err != nil {
			return err
		}
	}
	if opts.URL != "" {
		if err := ingestURL(ctx, p, sources, cfg, opts.ChatbotID, opts.URL); err != nil {
			return err
		}
	}

	return chatLoop(ctx, p, sources, chatEngine, opts.ChatbotID)
}

func ingestFiles(ctx context.Context, p *pipeline.Pipeline, sources types.SourceStore, chatbotID string, paths []string) error {
	bar := getProgressBar(len(paths), "Indexing files...")
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		src := &models.KnowledgeSource{
			ID:        "src_" + uuid.NewString(),
			ChatbotID: chatbotID,
			Type:      models.SourceTypeFile,
			Name:      filepath.Base(path),
			Content:   string(data),
			Status:    models.StatusPending,
		}
		if err := sources.CreateSource(ctx, src); err != nil {
			return err
		}
		if err := p.Index(ctx, chatbotID, src.ID, src.Content); err != nil {
			color.Red("\n%s: %v", src.Name, err)
		}
		bar.Add(1)
	}
	bar.Finish()
	color.Green("\n✓ Indexed %d files\n", len(paths))
	return nil
}

func ingestURL(ctx context.Context, p *pipeline.Pipeline, sources types.SourceStore, cfg *config.Config, chatbotID, rawURL string) error {
	f := fetcher.NewWithConfig(fetcher.Config{
		RateLimit: cfg.Fetcher.RateLimit,
		Timeout:   time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
	})

	spinner := getSpinner("Fetching " + rawURL + "...")
	title, content, err := f.Fetch(ctx, rawURL)
	spinner.Finish()
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}

	name := title
	if name == "" {
		name = rawURL
	}
	src := &models.KnowledgeSource{
		ID:        "src_" + uuid.NewString(),
		ChatbotID: chatbotID,
		Type:      models.SourceTypeURL,
		Name:      name,
		URL:       rawURL,
		Content:   content,
		Status:    models.StatusPending,
	}
	if err := sources.CreateSource(ctx, src); err != nil {
		return err
	}
	if err := p.Index(ctx, chatbotID, src.ID, src.Content); err != nil {
		color.Red("%s: %v", name, err)
		return nil
	}
	color.Green("✓ Indexed %s\n", name)
	return nil
}

func chatLoop(ctx context.Context, p *pipeline.Pipeline, sources types.SourceStore, chatEngine *llm.ChatEngine, chatbotID string) error {
	bot, err := sources.GetChatbot(ctx, chatbotID)
	if err != nil {
		return err
	}

	color.Cyan("\nChat with your knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []llm.Message
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") {
			break
		}

		spinner := getSpinner("Searching knowledge base...")
		contextChunks, err := p.Query(ctx, chatbotID, query, 0)
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			color.Red("Error querying knowledge base: %v\n", err)
			continue
		}

		history = append(history, llm.Message{Role: "user", Content: query})

		assistantPrompt("\nAssistant: ")
		var reply strings.Builder
		err = chatEngine.ChatStream(ctx, history, bot.SystemPrompt, contextChunks, func(chunk string) error {
			fmt.Print(chunk)
			reply.WriteString(chunk)
			return nil
		})
		fmt.Print("\n")
		if err != nil {
			color.Red("Error: %v\n", err)
			history = history[:len(history)-1]
			continue
		}
		history = append(history, llm.Message{Role: "assistant", Content: reply.String()})
	}
	return nil
}
