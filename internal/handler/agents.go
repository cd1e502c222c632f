package handler

import (
	"net/http"

	"github.com/agentdeck/ops-console/internal/agent"
)

// AgentHandler serves the static agent roster.
type AgentHandler struct{}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler() *AgentHandler {
	return &AgentHandler{}
}

// List handles GET /api/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]agent.Info{
		"agents": agent.Roster(),
	})
}
