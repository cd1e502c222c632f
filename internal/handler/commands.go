package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentdeck/ops-console/internal/agent"
	"github.com/agentdeck/ops-console/internal/middleware"
	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/internal/service"
	"github.com/agentdeck/ops-console/pkg/logger"
)

// CommandHandler is the human-facing passthrough entry point. It can
// only construct human.command events, and it schedules the stub agent
// reply after a successful append.
type CommandHandler struct {
	writer    *service.Writer
	responder *agent.Responder
	logger    *logger.Logger
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(writer *service.Writer, responder *agent.Responder, log *logger.Logger) *CommandHandler {
	return &CommandHandler{writer: writer, responder: responder, logger: log}
}

// Create handles POST /api/commands
func (h *CommandHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateCommandText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actorID := middleware.GetUserID(r.Context())
	if actorID == "" {
		actorID = "user"
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	cand := &model.Candidate{
		Type:     "human.command",
		Actor:    "human",
		ActorID:  actorID,
		TargetID: req.ToAgentID,
		Payload: map[string]any{
			"text":        req.Text,
			"to_agent_id": req.ToAgentID,
		},
		ThreadID: threadID,
	}

	evt, err := h.writer.Append(r.Context(), cand)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("failed to append command")
		writeError(w, http.StatusInternalServerError, "failed to append command")
		return
	}

	// The reply is a detached task; the command request never waits on it.
	h.responder.RespondLater(evt)

	writeJSON(w, http.StatusCreated, &model.CommandResponse{
		Success:   true,
		CommandID: evt.ID,
		ThreadID:  evt.ThreadID,
	})
}
