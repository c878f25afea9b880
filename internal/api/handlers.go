package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fluxaster/FluxChat/internal/chat"
	"github.com/fluxaster/FluxChat/internal/gateway"
	"github.com/fluxaster/FluxChat/internal/logger"
	"github.com/fluxaster/FluxChat/internal/models"
	"github.com/fluxaster/FluxChat/internal/store"
)

// CompletionGateway is the upstream collaborator the handlers talk to.
type CompletionGateway interface {
	Complete(ctx context.Context, model string, messages []models.Message, opts gateway.Options) (models.Message, error)
	StreamCompletion(ctx context.Context, model string, messages []models.Message, opts gateway.Options, onChunk func(string) error) (models.Message, error)
}

// Handler wires HTTP routes to the history store and the completion gateway.
type Handler struct {
	store     *store.Store
	gateway   CompletionGateway
	known     map[string]struct{}
	modelList []string
	staticDir string
}

// NewHandler constructs a Handler instance for the configured model list.
func NewHandler(st *store.Store, gw CompletionGateway, modelNames []string) *Handler {
	known := make(map[string]struct{}, len(modelNames))
	for _, name := range modelNames {
		known[name] = struct{}{}
	}
	return &Handler{
		store:     st,
		gateway:   gw,
		known:     known,
		modelList: modelNames,
		staticDir: "./static",
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.indexPage)
	router.Static("/static", h.staticDir)
	router.GET("/models", h.listModels)
	router.POST("/chat/", h.chatEndpoint)
	router.POST("/insert-message/", h.insertMessage)
	router.POST("/clear-history/", h.clearHistory)
}

func (h *Handler) indexPage(c *gin.Context) {
	c.File(h.staticDir + "/index.html")
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.modelList})
}

// requireModel rejects model identifiers outside the configured list.
func (h *Handler) requireModel(c *gin.Context, model string) bool {
	if _, ok := h.known[model]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown model: %s", model)})
		return false
	}
	return true
}

type chatRequest struct {
	Model        string  `json:"model"`
	Message      string  `json:"message"`
	SystemPrompt string  `json:"system_prompt"`
	Stream       bool    `json:"stream"`
	UseHistory   *bool   `json:"use_history"`
	Temperature  float32 `json:"temperature"`
	TopP         float32 `json:"top_p"`
	MaxTokens    int     `json:"max_tokens"`
}

func (h *Handler) chatEndpoint(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.requireModel(c, req.Model) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	useHistory := true
	if req.UseHistory != nil {
		useHistory = *req.UseHistory
	}

	// Snapshot history and consume once-lifetime insertions. From here on the
	// staged entries count as used even if the upstream call fails.
	history, staged := h.store.BeginTurn(req.Model)
	if !useHistory {
		history = nil
	}
	messages := chat.BuildMessages(req.SystemPrompt, history, staged, req.Message)
	opts := gateway.Options{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	userMsg := models.Message{Role: models.RoleUser, Content: req.Message}

	if !req.Stream {
		reply, err := h.gateway.Complete(c.Request.Context(), req.Model, messages, opts)
		if err != nil {
			logger.L.Error("upstream completion failed", "model", req.Model, "request_id", requestID(c), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if useHistory {
			h.store.AppendTurn(req.Model, userMsg, reply)
		}
		c.JSON(http.StatusOK, reply)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendData := func(payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reply, err := h.gateway.StreamCompletion(c.Request.Context(), req.Model, messages, opts, func(chunk string) error {
		return sendData(gin.H{"content": chunk})
	})
	if err != nil {
		logger.L.Error("upstream stream failed", "model", req.Model, "request_id", requestID(c), "error", err)
		_ = sendData(gin.H{"error": err.Error()})
		return
	}
	if useHistory {
		h.store.AppendTurn(req.Model, userMsg, reply)
	}
	_ = sendData("[DONE]")
}

type insertionItem struct {
	Role     models.Role     `json:"role"`
	Content  string          `json:"content"`
	Depth    int             `json:"depth"`
	Lifetime models.Lifetime `json:"lifetime"`
}

type insertRequest struct {
	Model      string          `json:"model"`
	Insertions []insertionItem `json:"insertions"`
	Lifetime   models.Lifetime `json:"lifetime"`
}

func (h *Handler) insertMessage(c *gin.Context) {
	var req insertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.requireModel(c, req.Model) {
		return
	}
	if len(req.Insertions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "insertions are required"})
		return
	}
	// The request-level lifetime is the default for entries that do not carry
	// their own.
	batchLifetime := req.Lifetime
	if batchLifetime == "" {
		batchLifetime = models.LifetimeOnce
	}
	if !models.ValidLifetime(batchLifetime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid lifetime: %s", batchLifetime)})
		return
	}

	staged := make([]models.Insertion, 0, len(req.Insertions))
	for _, item := range req.Insertions {
		if !models.ValidRole(item.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid role: %s", item.Role)})
			return
		}
		if item.Depth < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth cannot be negative"})
			return
		}
		lifetime := item.Lifetime
		if lifetime == "" {
			lifetime = batchLifetime
		}
		if !models.ValidLifetime(lifetime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid lifetime: %s", lifetime)})
			return
		}
		staged = append(staged, models.Insertion{
			Role:     item.Role,
			Content:  item.Content,
			Depth:    item.Depth,
			Lifetime: lifetime,
		})
	}

	pending := h.store.StageInsertions(req.Model, staged)
	c.JSON(http.StatusOK, gin.H{"status": "staged", "pending": pending})
}

type clearRequest struct {
	Model string `json:"model"`
}

func (h *Handler) clearHistory(c *gin.Context) {
	var req clearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.requireModel(c, req.Model) {
		return
	}
	h.store.Clear(req.Model)
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
