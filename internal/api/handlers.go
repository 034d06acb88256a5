package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrWong99/mnemoxa/internal/agent"
	"github.com/MrWong99/mnemoxa/internal/auth"
	"github.com/MrWong99/mnemoxa/internal/hybrid"
	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Request/response types
// ─────────────────────────────────────────────────────────────────────────────

type registerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type chatRequest struct {
	// UserID is optional; when present it must match the authenticated
	// identity.
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply         string `json:"reply"`
	SessionID     string `json:"session_id"`
	MemoryContext string `json:"memory_context,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type addFactRequest struct {
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

type addFactResponse struct {
	StoredIn string `json:"stored_in"`
}

type summaryResponse struct {
	UserID             string   `json:"user_id"`
	TemporalFactCount  int      `json:"temporal_fact_count"`
	FactualMemoryCount int      `json:"factual_memory_count"`
	AgentMemoryCount   int      `json:"agent_memory_count"`
	KeyFacts           []string `json:"key_facts,omitempty"`
}

type factResponse struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Category  string            `json:"category"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type historyEntry struct {
	Event      string    `json:"event"`
	OldContent string    `json:"old_content,omitempty"`
	NewContent string    `json:"new_content"`
	CreatedAt  time.Time `json:"created_at"`
}

type sessionsResponse struct {
	Sessions []string `json:"sessions"`
}

type turnEntry struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

// Register handles POST /api/auth/register: creates a user identity and
// returns its id with a fresh bearer token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user := memory.UserProfile{
		ID:        uuid.NewString(),
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := h.persist.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, memory.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		if memory.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("user registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	// Best-effort: the memory layer also registers users lazily on first
	// chat turn.
	h.memory.EnsureUser(r.Context(), user)

	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		slog.Error("token issue failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{UserID: user.ID, Token: token})
}

// Chat handles POST /api/chat: one conversation turn for the authenticated
// user. A missing session id starts a new session.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID != "" && req.UserID != userID {
		writeError(w, http.StatusForbidden, "user id mismatch")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp, err := h.agent.ProcessMessage(r.Context(), agent.Request{
		UserID:    userID,
		SessionID: sessionID,
		Message:   req.Message,
	})
	if memory.IsValidation(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("chat turn failed", "user_id", userID, "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat turn failed")
		return
	}

	// Transcript rows are best-effort; a recording failure never withholds
	// the reply.
	now := time.Now()
	if err := h.persist.RecordTurn(r.Context(), userID, sessionID, memory.RoleUser, req.Message, now); err != nil {
		slog.Warn("transcript write failed", "user_id", userID, "error", err)
	}
	if err := h.persist.RecordTurn(r.Context(), userID, sessionID, memory.RoleAssistant, resp.Reply, now); err != nil {
		slog.Warn("transcript write failed", "user_id", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:         resp.Reply,
		SessionID:     sessionID,
		MemoryContext: resp.MemoryContext,
	})
}

// SearchMemory handles POST /api/memory/search: a hybrid (or single-store)
// search over the authenticated user's memories.
func (h *Handler) SearchMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = hybrid.ModeHybrid
	}

	results := h.memory.SearchMode(r.Context(), userID, req.Query, mode)
	out := searchResponse{Results: make([]searchResult, 0, len(results))}
	for _, res := range results {
		out.Results = append(out.Results, searchResult{
			Source:   res.Source,
			Content:  res.Content,
			Score:    res.Score,
			Metadata: res.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// AddFact handles POST /api/memory/facts: stores an explicit memory for the
// authenticated user, routed by category.
func (h *Handler) AddFact(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req addFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	target, stored := h.memory.AddMemory(r.Context(), userID, req.Content, req.Category)
	if !stored {
		writeError(w, http.StatusServiceUnavailable, "memory store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, addFactResponse{StoredIn: target})
}

// MemorySummary handles GET /api/memory/summary.
func (h *Handler) MemorySummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	summary := h.memory.Summary(r.Context(), userID)
	writeJSON(w, http.StatusOK, summaryResponse{
		UserID:             summary.UserID,
		TemporalFactCount:  summary.TemporalFactCount,
		FactualMemoryCount: summary.FactualMemoryCount,
		AgentMemoryCount:   summary.AgentMemoryCount,
		KeyFacts:           summary.KeyFacts,
	})
}

// GetFact handles GET /api/memory/{memoryID}. Facts belonging to another
// user are a hard 403.
func (h *Handler) GetFact(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	fact := h.memory.GetFact(r.Context(), chi.URLParam(r, "memoryID"))
	if fact == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if fact.UserID != userID {
		writeError(w, http.StatusForbidden, "memory belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, factResponse{
		ID:        fact.ID,
		Content:   fact.Content,
		Category:  fact.Category,
		Metadata:  fact.Metadata,
		CreatedAt: fact.CreatedAt,
		UpdatedAt: fact.UpdatedAt,
	})
}

// FactHistory handles GET /api/memory/{memoryID}/history with the same
// ownership rule as GetFact.
func (h *Handler) FactHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	memoryID := chi.URLParam(r, "memoryID")
	fact := h.memory.GetFact(r.Context(), memoryID)
	if fact == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if fact.UserID != userID {
		writeError(w, http.StatusForbidden, "memory belongs to another user")
		return
	}

	records := h.memory.FactHistory(r.Context(), memoryID)
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, historyEntry{
			Event:      rec.Event,
			OldContent: rec.OldContent,
			NewContent: rec.NewContent,
			CreatedAt:  rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	sessions, err := h.persist.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("session listing failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "session listing failed")
		return
	}
	if sessions == nil {
		sessions = []string{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}

// History handles GET /api/history?session_id=&limit=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	turns, err := h.persist.ListTurns(r.Context(), userID, r.URL.Query().Get("session_id"), limit)
	if err != nil {
		slog.Error("history listing failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "history listing failed")
		return
	}
	out := make([]turnEntry, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnEntry{
			SessionID: t.SessionID,
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ─────────────────────────────────────────────────────────────────────────────
// JSON helpers
// ─────────────────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
