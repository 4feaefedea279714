package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/domain"
	"github.com/a1betting/propcore/internal/llm"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Context   struct {
		ProjectionIDs []string `json:"projection_ids,omitempty"`
	} `json:"context"`
}

type chatResponse struct {
	SessionID string             `json:"session_id"`
	Reply     domain.Explanation `json:"reply"`
	ModelUsed string             `json:"model_used"`
	LatencyMS int64              `json:"latency_ms"`
}

// handleChat serves the PropOllama endpoint. LLM trouble degrades to
// the fallback explanation; the only non-200 answers are for malformed
// client input.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be valid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	sessionID, sess := s.explainer.Sessions.Acquire(req.SessionID)
	// Concurrent requests for the same session queue here.
	sess.BeginTurn()
	defer sess.EndTurn()

	history := sess.History()
	sess.Append(llm.Message{Role: "user", Content: req.Message, At: start})

	ctx, cancel := context.WithTimeout(r.Context(), chatDeadline)
	defer cancel()

	reply := s.explainFor(ctx, req, history)
	sess.Append(llm.Message{Role: "assistant", Content: reply.Text, At: time.Now()})

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: sessionID,
		Reply:     reply,
		ModelUsed: reply.ModelUsed,
		LatencyMS: time.Since(start).Milliseconds(),
	})
}

// explainFor resolves the first known projection from the request
// context, scores it, and asks the explanation service about it with
// the session's prior turns.
func (s *Server) explainFor(ctx context.Context, req chatRequest, history []llm.Message) domain.Explanation {
	var projection *domain.Projection
	for _, id := range req.Context.ProjectionIDs {
		p, err := s.store.GetByID(id)
		if err != nil {
			log.Warn().Str("component", "api").Str("projection_id", id).Err(err).Msg("projection lookup failed")
			continue
		}
		if p != nil {
			projection = p
			break
		}
	}
	if projection == nil {
		// No grounding data: answer with the terminal error shape, still 200.
		return llm.Unavailable()
	}

	results, err := s.models.Rank(ctx, []domain.Projection{*projection}, 1, 0)
	if err != nil || len(results) == 0 {
		return llm.Unavailable()
	}
	return s.explainer.Explain(ctx, *projection, results[0], req.Message, history)
}
