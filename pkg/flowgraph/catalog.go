package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"golang.org/x/sync/singleflight"
)

// ErrNoMatchingTrigger is returned by Match when no active flow accepts the event.
var ErrNoMatchingTrigger = errors.New("no matching trigger")

type versionKey struct {
	id      string
	version int
}

// Catalog is a read-through cache of compiled graphs. Every version ever
// loaded stays cached so in-flight conversations keep their snapshot after
// an operator reload.
type Catalog struct {
	repo   persistence.FlowRepository
	logger *slog.Logger
	opts   []Option

	mu     sync.RWMutex
	graphs map[versionKey]*Graph
	latest map[string]int
	loaded bool

	group singleflight.Group
}

func NewCatalog(repo persistence.FlowRepository, logger *slog.Logger, opts ...Option) *Catalog {
	return &Catalog{
		repo:   repo,
		logger: logger.With("module", "flow_catalog"),
		opts:   opts,
		graphs: make(map[versionKey]*Graph),
		latest: make(map[string]int),
	}
}

// Load compiles the latest version of every stored flow. Flows that fail the
// integrity check are logged and left out.
func (c *Catalog) Load(ctx context.Context) error {
	flows, err := c.repo.Flows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list flows: %w", err)
	}

	for _, flow := range flows {
		g, err := New(flow, c.opts...)
		if err != nil {
			c.logger.ErrorContext(ctx, "flow rejected", "flow_id", flow.ID, "version", flow.Version, "error", err)

			continue
		}

		c.store(g, true)
	}

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "flow catalog loaded", "flows", len(flows))

	return nil
}

// Active returns the latest cached version of a flow, loading it on first use.
func (c *Catalog) Active(ctx context.Context, id string) (*Graph, error) {
	c.mu.RLock()
	v, ok := c.latest[id]
	g := c.graphs[versionKey{id, v}]
	c.mu.RUnlock()

	if ok && g != nil {
		return g, nil
	}

	return c.Reload(ctx, id)
}

// Version returns one specific version of a flow.
func (c *Catalog) Version(ctx context.Context, id string, version int) (*Graph, error) {
	c.mu.RLock()
	g, ok := c.graphs[versionKey{id, version}]
	c.mu.RUnlock()

	if ok {
		return g, nil
	}

	result, err, _ := c.group.Do(id+"@"+strconv.Itoa(version), func() (any, error) {
		flow, err := c.repo.FlowVersion(ctx, id, version)
		if err != nil {
			return nil, err
		}

		g, err := New(flow, c.opts...)
		if err != nil {
			return nil, err
		}

		c.store(g, false)

		return g, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Graph), nil
}

// Reload re-reads the latest version of a flow and makes it the active snapshot
// for new conversations.
func (c *Catalog) Reload(ctx context.Context, id string) (*Graph, error) {
	result, err, _ := c.group.Do(id+"@latest", func() (any, error) {
		flow, err := c.repo.FlowByID(ctx, id)
		if err != nil {
			return nil, err
		}

		g, err := New(flow, c.opts...)
		if err != nil {
			return nil, err
		}

		c.store(g, true)
		c.logger.InfoContext(ctx, "flow snapshot loaded", "flow_id", id, "version", g.Version())

		return g, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Graph), nil
}

func (c *Catalog) store(g *Graph, latest bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := versionKey{g.ID(), g.Version()}
	if existing, ok := c.graphs[key]; ok && !latest {
		g = existing
	}

	c.graphs[key] = g

	if latest {
		c.latest[g.ID()] = g.Version()
	}
}

// Match finds the trigger that starts a conversation for event. Keyword
// triggers are tried before inbound catch-all triggers; within each pass flows
// are visited by id and triggers in definition order.
func (c *Catalog) Match(ctx context.Context, event *models.InboundEvent) (*Graph, *models.Trigger, error) {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()

	if !loaded {
		if err := c.Load(ctx); err != nil {
			return nil, nil, err
		}
	}

	graphs := c.activeGraphs()

	for _, pass := range []models.TriggerType{models.TriggerTypeKeyword, models.TriggerTypeInbound} {
		for _, g := range graphs {
			for _, t := range g.Flow().Triggers {
				if t != nil && t.Type == pass && Accepts(t, event) {
					return g, t, nil
				}
			}
		}
	}

	return nil, nil, ErrNoMatchingTrigger
}

func (c *Catalog) activeGraphs() []*Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Graph, 0, len(c.latest))

	for id, v := range c.latest {
		if g := c.graphs[versionKey{id, v}]; g != nil && g.Flow().Active {
			out = append(out, g)
		}
	}

	slices.SortFunc(out, func(a, b *Graph) int { return strings.Compare(a.ID(), b.ID()) })

	return out
}

// Accepts reports whether trigger accepts event: exact channel type, plus the
// optional "to" and "channel_id" filters and, for keyword triggers, a
// case-insensitive keyword match on the event text.
func Accepts(trigger *models.Trigger, event *models.InboundEvent) bool {
	if trigger.ChannelType != event.ChannelType {
		return false
	}

	if to := trigger.ConfigString("to"); to != "" && to != event.To {
		return false
	}

	if channelID := trigger.ConfigString("channel_id"); channelID != "" && channelID != event.ChannelID {
		return false
	}

	switch trigger.Type {
	case models.TriggerTypeKeyword:
		text := strings.TrimSpace(event.Text)

		for _, keyword := range trigger.ConfigStrings("keywords") {
			if strings.EqualFold(strings.TrimSpace(keyword), text) {
				return true
			}
		}

		return false
	case models.TriggerTypeInbound:
		return true
	default:
		return false
	}
}
