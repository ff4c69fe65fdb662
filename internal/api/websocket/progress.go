package websocket

import (
	"encoding/json"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

// Message types sent on /ws/seed.
const (
	MessageRunStarted   = "run_started"
	MessageBatchStarted = "batch_started"
	MessageOutcome      = "outcome"
	MessageRunCompleted = "run_completed"
)

// Message is the envelope for every frame sent to clients.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressReporter broadcasts seed progress to every connected client.
type ProgressReporter struct {
	hub *Hub
}

// NewProgressReporter returns a seeder.Reporter writing to hub.
func NewProgressReporter(hub *Hub) *ProgressReporter {
	return &ProgressReporter{hub: hub}
}

func (p *ProgressReporter) OnRunStart(info seeder.RunInfo) {
	p.send(MessageRunStarted, info)
}

func (p *ProgressReporter) OnBatchStart(info seeder.BatchInfo) {
	p.send(MessageBatchStarted, info)
}

func (p *ProgressReporter) OnOutcome(o seeder.Outcome) {
	p.send(MessageOutcome, o)
}

func (p *ProgressReporter) OnRunComplete(res *seeder.Result) {
	p.send(MessageRunCompleted, res)
}

func (p *ProgressReporter) send(kind string, data any) {
	if p.hub.ClientCount() == 0 {
		return
	}
	b, err := json.Marshal(Message{Type: kind, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		p.hub.log.Warn("failed to encode progress message", "type", kind, "error", err)
		return
	}
	p.hub.Broadcast(b)
}
