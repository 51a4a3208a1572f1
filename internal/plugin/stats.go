package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
)

const statsHandlerName = "plugin.stats"

// Stats counts completed turns by outcome and completed tasks by result.
type Stats struct {
	mu    sync.Mutex
	turns map[string]int
	tasks map[string]int
	hooks *hooks.Manager
}

// NewStats creates the stats plugin.
func NewStats() *Stats {
	return &Stats{turns: make(map[string]int), tasks: make(map[string]int)}
}

func (s *Stats) ID() string      { return "stats" }
func (s *Stats) Name() string    { return "Activity Stats" }
func (s *Stats) Version() string { return "1.0.0" }

func (s *Stats) Init(_ context.Context, api API) error {
	if api.Hooks == nil {
		return nil
	}
	s.hooks = api.Hooks
	api.Hooks.On(hooks.EventTurnCompleted, statsHandlerName, s.count(s.turns, "outcome"))
	api.Hooks.On(hooks.EventTaskCompleted, statsHandlerName, s.count(s.tasks, "result"))
	return nil
}

func (s *Stats) count(into map[string]int, key string) hooks.Handler {
	return func(_ context.Context, p hooks.Payload) error {
		label, _ := p.Data[key].(string)
		if label == "" {
			label = "unknown"
		}
		s.mu.Lock()
		into[label]++
		s.mu.Unlock()
		return nil
	}
}

// Execute supports "summary" and "reset".
func (s *Stats) Execute(_ context.Context, action string, _ map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case "summary":
		raw, err := json.Marshal(map[string]map[string]int{
			"turns": maps.Clone(s.turns),
			"tasks": maps.Clone(s.tasks),
		})
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case "reset":
		clear(s.turns)
		clear(s.tasks)
		return "ok", nil
	default:
		return "", fmt.Errorf("%w: stats has no action %q", domain.ErrValidation, action)
	}
}

func (s *Stats) Close() error {
	if s.hooks != nil {
		s.hooks.Off(hooks.EventTurnCompleted, statsHandlerName)
		s.hooks.Off(hooks.EventTaskCompleted, statsHandlerName)
	}
	return nil
}
