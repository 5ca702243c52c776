package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatforge/knowledge/internal/models"
	"github.com/chatforge/knowledge/internal/types"
	"github.com/chatforge/knowledge/pkg/fetcher"
	"github.com/chatforge/knowledge/pkg/llm"
	"github.com/chatforge/knowledge/pkg/pipeline"
	"github.com/chatforge/knowledge/pkg/store"
)

const maxUploadBytes = 5 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
}

// Server exposes the knowledge base API: source intake and status
// polling over REST, chat over a websocket. Authentication happens
// upstream; by the time a request lands here the chatbot id in the path
// is assumed to be authorized for the caller.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	sources  types.SourceStore
	chat     *llm.ChatEngine
	fetch    *fetcher.Fetcher
	upgrader websocket.Upgrader
}

func New(p *pipeline.Pipeline, sources types.SourceStore, chat *llm.ChatEngine, fetch *fetcher.Fetcher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:     e,
		pipeline: p,
		sources:  sources,
		chat:     chat,
		fetch:    fetch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	e.GET("/health", s.handleHealth)
	e.GET("/api/chatbots/:id/sources", s.handleListSources)
	e.POST("/api/chatbots/:id/sources", s.handleCreateSource)
	e.POST("/api/sources/:id/retry", s.handleRetrySource)
	e.DELETE("/api/sources/:id", s.handleDeleteSource)
	e.GET("/ws/chat/:id", s.handleChatWS)

	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type sourceResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toSourceResponse(src *models.KnowledgeSource) sourceResponse {
	return sourceResponse{
		ID:        src.ID,
		Type:      string(src.Type),
		Name:      src.Name,
		URL:       src.URL,
		Status:    string(src.Status),
		Error:     src.Error,
		CreatedAt: src.CreatedAt,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleListSources is the status polling endpoint: clients poll it
// until no source remains pending or processing. Staleness detection
// happens inside the store on read.
func (s *Server) handleListSources(c echo.Context) error {
	chatbotID := c.Param("id")
	if _, err := s.sources.GetChatbot(c.Request().Context(), chatbotID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "chatbot not found"})
	}

	sources, err := s.sources.ListSources(c.Request().Context(), chatbotID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sources"})
	}

	out := make([]sourceResponse, 0, len(sources))
	for i := range sources {
		out = append(out, toSourceResponse(&sources[i]))
	}
	return c.JSON(http.StatusOK, out)
}

type addURLRequest struct {
	URL string `json:"url"`
}

// handleCreateSource accepts either a multipart file upload or a JSON
// body carrying a URL. The source is created pending and indexed in the
// same request; an indexing failure comes back as a failed source in a
// successful response, not as an HTTP error.
func (s *Server) handleCreateSource(c echo.Context) error {
	chatbotID := c.Param("id")
	ctx := c.Request().Context()
	if _, err := s.sources.GetChatbot(ctx, chatbotID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "chatbot not found"})
	}

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return s.createFileSources(c, chatbotID)
	}
	return s.createURLSource(c, chatbotID)
}

func (s *Server) createFileSources(c echo.Context, chatbotID string) error {
	ctx := c.Request().Context()

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
	}
	files := form.File["files"]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no files provided"})
	}

	results := make([]sourceResponse, 0, len(files))
	for _, fh := range files {
		if fh.Size > maxUploadBytes {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("file %s is too large (max 5MB)", fh.Filename),
			})
		}
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !allowedExtensions[ext] {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("file type %s is not supported", ext),
			})
		}

		file, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read upload"})
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read upload"})
		}

		src, err := s.intakeSource(ctx, &models.KnowledgeSource{
			ID:        "src_" + uuid.NewString(),
			ChatbotID: chatbotID,
			Type:      models.SourceTypeFile,
			Name:      fh.Filename,
			Content:   string(data),
			Status:    models.StatusPending,
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save source"})
		}
		results = append(results, toSourceResponse(src))
	}
	return c.JSON(http.StatusCreated, results)
}

func (s *Server) createURLSource(c echo.Context, chatbotID string) error {
	ctx := c.Request().Context()

	var req addURLRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}

	title, content, err := s.fetch.Fetch(ctx, req.URL)
	name := title
	if name == "" {
		name = req.URL
	}

	src := &models.KnowledgeSource{
		ID:        "src_" + uuid.NewString(),
		ChatbotID: chatbotID,
		Type:      models.SourceTypeURL,
		Name:      name,
		URL:       req.URL,
		Content:   content,
		Status:    models.StatusPending,
	}
	if err != nil {
		// The fetch failed; record the source as failed so the user
		// can see why and retry later.
		src.Status = models.StatusFailed
		src.Error = fmt.Sprintf("fetch failed: %v", err)
		if cerr := s.sources.CreateSource(ctx, src); cerr != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save source"})
		}
		return c.JSON(http.StatusCreated, toSourceResponse(src))
	}

	stored, err := s.intakeSource(ctx, src)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save source"})
	}
	return c.JSON(http.StatusCreated, toSourceResponse(stored))
}

// intakeSource persists a pending source, runs the indexing pipeline,
// and returns the source's final state. Pipeline failures are already
// recorded on the source, so they are not surfaced as request errors.
func (s *Server) intakeSource(ctx context.Context, src *models.KnowledgeSource) (*models.KnowledgeSource, error) {
	if err := s.sources.CreateSource(ctx, src); err != nil {
		return nil, err
	}
	if err := s.pipeline.Index(ctx, src.ChatbotID, src.ID, src.Content); err != nil {
		log.Printf("indexing source %s failed: %v", src.ID, err)
	}
	return s.sources.GetSource(ctx, src.ID)
}

func (s *Server) handleRetrySource(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.sources.GetSource(ctx, id); err != nil {
		if errors.Is(err, store.ErrSourceNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "source not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load source"})
	}

	if err := s.pipeline.Reindex(ctx, id); err != nil {
		log.Printf("retrying source %s failed: %v", id, err)
	}

	src, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load source"})
	}
	return c.JSON(http.StatusOK, toSourceResponse(src))
}

func (s *Server) handleDeleteSource(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.sources.GetSource(ctx, id); err != nil {
		if errors.Is(err, store.ErrSourceNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "source not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load source"})
	}

	if err := s.pipeline.Delete(ctx, id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete source"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type wsMessage struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	History []llm.Message `json:"history,omitempty"`
}

// handleChatWS streams grounded chat replies over a websocket. Each
// inbound message carries the user's text plus conversation history;
// the reply is streamed back as a sequence of "stream" frames followed
// by "done".
func (s *Server) handleChatWS(c echo.Context) error {
	chatbotID := c.Param("id")
	bot, err := s.sources.GetChatbot(c.Request().Context(), chatbotID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "chatbot not found"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if strings.TrimSpace(msg.Content) == "" {
			s.sendWS(conn, wsMessage{Type: "error", Content: "message is empty"})
			continue
		}

		contextChunks, err := s.pipeline.Query(ctx, chatbotID, msg.Content, 0)
		if err != nil {
			// Degrade to an ungrounded answer; the knowledge base is
			// unavailable but the chatbot can still respond.
			log.Printf("retrieval failed for chatbot %s: %v", chatbotID, err)
			contextChunks = nil
		}

		history := append(msg.History, llm.Message{Role: "user", Content: msg.Content})
		err = s.chat.ChatStream(ctx, history, bot.SystemPrompt, contextChunks, func(chunk string) error {
			return s.sendWS(conn, wsMessage{Type: "stream", Content: chunk})
		})
		if err != nil {
			s.sendWS(conn, wsMessage{Type: "error", Content: err.Error()})
			continue
		}
		s.sendWS(conn, wsMessage{Type: "done"})
	}
	return nil
}

func (s *Server) sendWS(conn *websocket.Conn, msg wsMessage) error {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("error sending message: %v", err)
		return err
	}
	return nil
}
