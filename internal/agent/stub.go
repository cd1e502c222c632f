// Package agent fabricates stub replies to human commands. Replies go
// through the same event writer as any other producer, just later.
package agent

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/pkg/logger"
	"github.com/agentdeck/ops-console/pkg/metrics"
)

// Info describes one agent on the console roster.
type Info struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Icon   string `json:"icon"`
}

// Roster returns the static agent roster shown by the console.
func Roster() []Info {
	return []Info{
		{ID: "trading", Name: "Trading Agent", Status: "active", Icon: "chart"},
		{ID: "research", Name: "Research Agent", Status: "active", Icon: "search"},
		{ID: "onchain", Name: "Onchain Agent", Status: "active", Icon: "chain"},
	}
}

// DefaultAgentID is used when a command names no addressee.
const DefaultAgentID = "stub_agent"

var cannedReplies = map[string][]string{
	"trading": {
		"Analyzing the ETH chart. RSI at 65, neutral territory.",
		"Price approaching the upper Bollinger band, pullback possible.",
		"Rising volume with rising price, trend looks strong.",
		"A 5x long entry is worth considering here.",
	},
	"research": {
		"Surfaced three new DeFi protocols worth a look.",
		"EigenLayer TVL crossed $15B, risk review recommended.",
		"Finished the airdrop candidate analysis.",
		"Drafting the zkSync ecosystem report now.",
	},
	"onchain": {
		"Gas at 25 gwei, below the daily average.",
		"Whale movement detected: 1000 ETH transferred.",
		"Base chain TVL up 10% over the last day.",
		"50 new contracts deployed in the last hour.",
	},
	"default": {
		"Command received, working on it.",
		"Analyzing the data now.",
		"Task completed.",
		"Anything else you need?",
	},
}

// Writer is the slice of the event writer the responder needs.
type Writer interface {
	Append(ctx context.Context, cand *model.Candidate) (*model.Event, error)
}

// Responder emits a fabricated agent.message reply some time after each
// command, without blocking the request that carried the command.
type Responder struct {
	writer   Writer
	logger   *logger.Logger
	minDelay time.Duration
	maxDelay time.Duration
}

// NewResponder creates a stub responder with the given delay window.
func NewResponder(w Writer, log *logger.Logger, minDelay, maxDelay time.Duration) *Responder {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Responder{writer: w, logger: log, minDelay: minDelay, maxDelay: maxDelay}
}

// RespondLater schedules a reply to cmd after a randomized delay and
// returns immediately. The reply correlates with the command through
// thread_id and payload.reply_to.
func (r *Responder) RespondLater(cmd *model.Event) {
	agentID := cmd.TargetID
	if agentID == "" {
		agentID = DefaultAgentID
	}

	delay := r.minDelay
	if spread := r.maxDelay - r.minDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}

	time.AfterFunc(delay, func() {
		reply := &model.Candidate{
			Type:     "agent.message",
			Actor:    "agent",
			ActorID:  agentID,
			TargetID: cmd.ActorID,
			Payload: map[string]any{
				"text":     replyText(agentID),
				"reply_to": cmd.ID,
			},
			ThreadID: cmd.ThreadID,
		}

		if _, err := r.writer.Append(context.Background(), reply); err != nil {
			r.logger.Warn("stub reply append failed",
				zap.String("command_id", cmd.ID),
				zap.Error(err),
			)
			return
		}
		metrics.StubReplies.WithLabelValues(agentID).Inc()
	})
}

func replyText(agentID string) string {
	replies, ok := cannedReplies[agentID]
	if !ok {
		replies = cannedReplies["default"]
	}
	return replies[rand.Intn(len(replies))]
}
