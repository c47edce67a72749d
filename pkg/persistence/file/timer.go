package file

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

func (p *Persistence) SaveTimer(_ context.Context, timer *models.Timer) error {
	if err := checkID(timer.ConversationID); err != nil {
		return persistence.NewConversationError("SaveTimer", timer.ConversationID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return writeJSON(p.path("timers", timer.ConversationID+".json"), timer)
}

func (p *Persistence) DeleteTimer(_ context.Context, conversationID string) error {
	if err := checkID(conversationID); err != nil {
		return persistence.NewConversationError("DeleteTimer", conversationID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(p.path("timers", conversationID+".json"))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to delete timer of %s: %w", conversationID, err)
	}

	return nil
}

func (p *Persistence) Timers(_ context.Context) ([]*models.Timer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.path("timers"))
	if err != nil {
		if isNotExist(err) {
			return make([]*models.Timer, 0), nil
		}

		return nil, fmt.Errorf("failed to list timers: %w", err)
	}

	out := make([]*models.Timer, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var t models.Timer
		if err := readJSON(p.path("timers", entry.Name()), &t); err != nil {
			return nil, err
		}

		out = append(out, &t)
	}

	slices.SortFunc(out, func(a, b *models.Timer) int { return a.DueAt.Compare(b.DueAt) })

	return out, nil
}
