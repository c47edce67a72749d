// Package memory provides an in-process persistence implementation used by tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// Persistence keeps every repository in memory. Values are copied in and out
// so callers never share state with the store.
type Persistence struct {
	mu            sync.RWMutex
	flows         map[string]map[int]*models.Flow
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	timers        map[string]*models.Timer
}

func NewPersistence() *Persistence {
	return &Persistence{
		flows:         make(map[string]map[int]*models.Flow),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		timers:        make(map[string]*models.Timer),
	}
}

func (p *Persistence) FlowRepository() persistence.FlowRepository       { return p }
func (p *Persistence) ConversationStore() persistence.ConversationStore { return p }
func (p *Persistence) TimerStore() persistence.TimerStore               { return p }
func (p *Persistence) HealthCheck(_ context.Context) error              { return nil }
func (p *Persistence) Close(_ context.Context) error                    { return nil }

func (p *Persistence) Flows(_ context.Context) ([]*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flows := make([]*models.Flow, 0, len(p.flows))
	for id := range p.flows {
		flows = append(flows, cloneFlow(p.latest(id)))
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	return flows, nil
}

func (p *Persistence) FlowByID(_ context.Context, id string) (*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flow := p.latest(id)
	if flow == nil {
		return nil, persistence.NewFlowError("FlowByID", id, persistence.ErrFlowNotFound)
	}

	return cloneFlow(flow), nil
}

func (p *Persistence) FlowVersion(_ context.Context, id string, version int) (*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flow, ok := p.flows[id][version]
	if !ok {
		return nil, persistence.NewFlowVersionError("FlowVersion", id, version, persistence.ErrFlowNotFound)
	}

	return cloneFlow(flow), nil
}

func (p *Persistence) SaveFlow(_ context.Context, flow *models.Flow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.flows[flow.ID]
	if !ok {
		versions = make(map[int]*models.Flow)
		p.flows[flow.ID] = versions
	}

	if flow.Version == 0 {
		flow.Version = len(versions) + 1
		if latest := p.latest(flow.ID); latest != nil {
			flow.Version = latest.Version + 1
		}
	}

	if _, exists := versions[flow.Version]; exists {
		return persistence.NewFlowVersionError("SaveFlow", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
	}

	if _, err := json.Marshal(flow); err != nil {
		return persistence.NewFlowError("SaveFlow", flow.ID, fmt.Errorf("flow is not serializable: %w", err))
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now().UTC()
	}

	versions[flow.Version] = cloneFlow(flow)

	return nil
}

func (p *Persistence) latest(id string) *models.Flow {
	var latest *models.Flow

	for _, f := range p.flows[id] {
		if latest == nil || f.Version > latest.Version {
			latest = f
		}
	}

	return latest
}

func (p *Persistence) LoadConversation(_ context.Context, id string) (*models.Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.conversations[id]
	if !ok {
		return nil, persistence.NewConversationError("LoadConversation", id, persistence.ErrConversationNotFound)
	}

	return c.Clone(), nil
}

func (p *Persistence) SaveConversation(_ context.Context, conversation *models.Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conversations[conversation.ID] = conversation.Clone()

	return nil
}

func (p *Persistence) FindActiveConversation(_ context.Context, flowID, channelID, externalUserID string) (*models.Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found *models.Conversation

	for _, c := range p.conversations {
		if c.Status != models.ConversationStatusActive || c.ChannelID != channelID || c.ExternalUserID != externalUserID {
			continue
		}

		if flowID != "" && c.FlowID != flowID {
			continue
		}

		if found == nil || c.StartedAt.After(found.StartedAt) {
			found = c
		}
	}

	if found == nil {
		return nil, persistence.NewConversationError("FindActiveConversation", channelID+"/"+externalUserID, persistence.ErrConversationNotFound)
	}

	return found.Clone(), nil
}

func (p *Persistence) LatestConversation(_ context.Context, channelID, externalUserID string) (*models.Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found *models.Conversation

	for _, c := range p.conversations {
		if c.ChannelID != channelID || c.ExternalUserID != externalUserID {
			continue
		}

		if found == nil || c.StartedAt.After(found.StartedAt) {
			found = c
		}
	}

	if found == nil {
		return nil, persistence.NewConversationError("LatestConversation", channelID+"/"+externalUserID, persistence.ErrConversationNotFound)
	}

	return found.Clone(), nil
}

func (p *Persistence) ActiveConversations(_ context.Context, filter persistence.ConversationFilter) ([]*models.Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Conversation, 0)

	for _, c := range p.conversations {
		if matches(c, filter) {
			out = append(out, c.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (p *Persistence) AppendMessage(_ context.Context, message *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *message
	p.messages[message.ConversationID] = append(p.messages[message.ConversationID], &cp)

	return nil
}

func (p *Persistence) Messages(_ context.Context, conversationID string) ([]*models.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Message, 0, len(p.messages[conversationID]))
	for _, m := range p.messages[conversationID] {
		cp := *m
		out = append(out, &cp)
	}

	return out, nil
}

func (p *Persistence) SaveTimer(_ context.Context, timer *models.Timer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *timer
	p.timers[timer.ConversationID] = &cp

	return nil
}

func (p *Persistence) DeleteTimer(_ context.Context, conversationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.timers, conversationID)

	return nil
}

func (p *Persistence) Timers(_ context.Context) ([]*models.Timer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Timer, 0, len(p.timers))
	for _, t := range p.timers {
		cp := *t
		out = append(out, &cp)
	}

	slices.SortFunc(out, func(a, b *models.Timer) int { return a.DueAt.Compare(b.DueAt) })

	return out, nil
}

func matches(c *models.Conversation, filter persistence.ConversationFilter) bool {
	if c.Status != models.ConversationStatusActive {
		return false
	}

	if filter.FlowID != "" && c.FlowID != filter.FlowID {
		return false
	}

	if filter.WaitingFor != "" && c.WaitingFor != filter.WaitingFor {
		return false
	}

	if filter.IdleBefore != nil && (c.IdleDeadline == nil || c.IdleDeadline.After(*filter.IdleBefore)) {
		return false
	}

	return true
}

// cloneFlow deep-copies a flow through JSON so node data maps are never shared.
func cloneFlow(flow *models.Flow) *models.Flow {
	b, err := json.Marshal(flow)
	if err == nil {
		var out models.Flow
		if err := json.Unmarshal(b, &out); err == nil {
			return &out
		}
	}

	cp := *flow

	return &cp
}
