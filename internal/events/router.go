// Package events decides what to do with watcher events: act now through the
// agent, enqueue a task for later, or drop. A small model classifies when one
// is configured; otherwise a fixed keyword table decides.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/llm"
	"github.com/darbylab/darby/internal/task"
	"github.com/darbylab/darby/internal/watch"
)

const classifyMaxTokens = 200

// Model is the classifier slice of the small-model client. A nil Model means
// keyword-table mode.
type Model interface {
	Classify(ctx context.Context, jsonPrompt string, maxTokens int) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Agent handles immediate actions synthesized from events.
type Agent interface {
	Run(ctx context.Context, input string) (string, error)
}

// Router routes watcher events to the agent or the task store.
type Router struct {
	model Model
	agent Agent
	tasks *task.Store
}

// New builds a router. model may be nil; agent may be nil, which turns
// immediate actions into deferred tasks.
func New(model Model, agent Agent, tasks *task.Store) *Router {
	return &Router{model: model, agent: agent, tasks: tasks}
}

// decision is what classification produces for one event.
type decision struct {
	Actionable  bool   `json:"actionable"`
	Immediate   bool   `json:"immediate"`
	Instruction string `json:"instruction"`
}

// Handle classifies one event and acts on it. Errors from downstream
// (agent, task store) are returned; classification itself never fails,
// it degrades to the keyword table.
func (r *Router) Handle(ctx context.Context, ev watch.Event) error {
	dec := r.decide(ctx, ev)
	if !dec.Actionable {
		log.Debug().Str("watcher", ev.WatcherID).Str("event", ev.EventID).Msg("Event not actionable")
		return nil
	}
	if dec.Instruction == "" {
		dec.Instruction = synthesizeInstruction(ev)
	}

	if dec.Immediate && r.agent != nil {
		log.Info().
			Str("watcher", ev.WatcherID).
			Str("event", ev.EventID).
			Msg("Dispatching event to agent")
		if _, err := r.agent.Run(ctx, dec.Instruction); err != nil {
			return fmt.Errorf("immediate action for %s/%s: %w", ev.WatcherID, ev.EventID, err)
		}
		return nil
	}

	if r.tasks == nil {
		log.Warn().Str("watcher", ev.WatcherID).Msg("No task store; dropping deferred event")
		return nil
	}
	scheduled, err := r.tasks.Add(dec.Instruction, task.Schedule{Kind: task.ScheduleAt, At: time.Now()}, task.OriginEventRouter)
	if err != nil {
		return fmt.Errorf("enqueue task for %s/%s: %w", ev.WatcherID, ev.EventID, err)
	}
	log.Info().
		Str("watcher", ev.WatcherID).
		Str("event", ev.EventID).
		Str("task", scheduled.ID).
		Msg("Event enqueued as task")
	return nil
}

// decide prefers the model and falls back to the keyword table on any
// failure, per the recover-inside-subsystems policy.
func (r *Router) decide(ctx context.Context, ev watch.Event) decision {
	if r.model != nil && r.model.IsAvailable(ctx) {
		if dec, ok := r.classifyWithModel(ctx, ev); ok {
			return dec
		}
	}
	return keywordDecision(ev)
}

func (r *Router) classifyWithModel(ctx context.Context, ev watch.Event) (decision, bool) {
	prompt, err := buildEventPrompt(ev)
	if err != nil {
		return decision{}, false
	}
	raw, err := r.model.Classify(ctx, prompt, classifyMaxTokens)
	if err != nil {
		log.Debug().Err(err).Str("watcher", ev.WatcherID).Msg("Event classification failed; using keyword table")
		return decision{}, false
	}

	var dec decision
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &dec); err != nil {
		log.Debug().Err(err).Str("watcher", ev.WatcherID).Msg("Unparseable event classification; using keyword table")
		return decision{}, false
	}
	return dec, true
}

func buildEventPrompt(ev watch.Event) (string, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You triage events for a personal automation assistant.

Event source: %s
Event payload: %s

Decide whether this event needs action. Respond with JSON only:
{"actionable": true|false, "immediate": true|false, "instruction": "<what the assistant should do, one sentence>"}

"immediate" means act right now; otherwise the action is queued.`,
		ev.WatcherID, payload), nil
}

// watcherRules is the fixed fallback table: wildcard patterns matched against
// every string payload field, plus the disposition for a hit.
type watcherRule struct {
	patterns  []string
	immediate bool
}

var watcherRules = map[string]watcherRule{
	"mail": {
		patterns: []string{"*urgent*", "*asap*", "*action required*", "*invoice*", "*overdue*", "*reminder*", "*deadline*"},
	},
	"messages": {
		patterns:  []string{"*urgent*", "*asap*", "*call me*", "*where are you*", "*help*"},
		immediate: true,
	},
	"notifications": {
		patterns:  []string{"*fail*", "*error*", "*alert*", "*warning*", "*down*"},
		immediate: true,
	},
	"calendar": {
		// Every surfaced calendar event is an upcoming one; queue a reminder.
		patterns: []string{"*"},
	},
	"repo": {
		patterns: []string{"*fix*", "*revert*", "*break*", "*release*", "*urgent*", "*security*"},
	},
}

// keywordDecision applies the fixed table. Unknown watchers are not
// actionable.
func keywordDecision(ev watch.Event) decision {
	rule, ok := watcherRules[ev.WatcherID]
	if !ok {
		return decision{}
	}
	haystacks := payloadStrings(ev.Payload)
	for _, pattern := range rule.patterns {
		for _, s := range haystacks {
			if wildcard.Match(pattern, strings.ToLower(s)) {
				return decision{Actionable: true, Immediate: rule.immediate}
			}
		}
	}
	return decision{}
}

// payloadStrings collects the string-valued payload fields in stable order.
func payloadStrings(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// synthesizeInstruction turns an event into a natural-language directive for
// the agent.
func synthesizeInstruction(ev watch.Event) string {
	var detail strings.Builder
	for _, k := range []string{"subject", "summary", "text", "message", "from", "sender", "start", "author"} {
		if s, ok := ev.Payload[k].(string); ok && s != "" {
			if detail.Len() > 0 {
				detail.WriteString("; ")
			}
			fmt.Fprintf(&detail, "%s: %s", k, s)
		}
	}
	if detail.Len() == 0 {
		return fmt.Sprintf("Handle this %s event (id %s).", ev.WatcherID, ev.EventID)
	}
	return fmt.Sprintf("Handle this %s event: %s.", ev.WatcherID, detail.String())
}
