package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

func (p *Persistence) LoadConversation(_ context.Context, id string) (*models.Conversation, error) {
	if err := checkID(id); err != nil {
		return nil, persistence.NewConversationError("LoadConversation", id, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var conversation models.Conversation

	err := readJSON(p.path("conversations", id+".json"), &conversation)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewConversationError("LoadConversation", id, persistence.ErrConversationNotFound)
		}

		return nil, persistence.NewConversationError("LoadConversation", id, err)
	}

	return &conversation, nil
}

func (p *Persistence) SaveConversation(_ context.Context, conversation *models.Conversation) error {
	if err := checkID(conversation.ID); err != nil {
		return persistence.NewConversationError("SaveConversation", conversation.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := writeJSON(p.path("conversations", conversation.ID+".json"), conversation)
	if err != nil {
		return persistence.NewConversationError("SaveConversation", conversation.ID, err)
	}

	return nil
}

func (p *Persistence) FindActiveConversation(ctx context.Context, flowID, channelID, externalUserID string) (*models.Conversation, error) {
	active, err := p.ActiveConversations(ctx, persistence.ConversationFilter{FlowID: flowID})
	if err != nil {
		return nil, err
	}

	var found *models.Conversation

	for _, c := range active {
		if c.ChannelID != channelID || c.ExternalUserID != externalUserID {
			continue
		}

		if found == nil || c.StartedAt.After(found.StartedAt) {
			found = c
		}
	}

	if found == nil {
		return nil, persistence.NewConversationError("FindActiveConversation", channelID+"/"+externalUserID, persistence.ErrConversationNotFound)
	}

	return found, nil
}

// LatestConversation scans every stored conversation.
func (p *Persistence) LatestConversation(_ context.Context, channelID, externalUserID string) (*models.Conversation, error) {
	all, err := p.scan(func(c *models.Conversation) bool {
		return c.ChannelID == channelID && c.ExternalUserID == externalUserID
	})
	if err != nil {
		return nil, err
	}

	if len(all) == 0 {
		return nil, persistence.NewConversationError("LatestConversation", channelID+"/"+externalUserID, persistence.ErrConversationNotFound)
	}

	return all[len(all)-1], nil
}

// ActiveConversations scans every stored conversation.
func (p *Persistence) ActiveConversations(_ context.Context, filter persistence.ConversationFilter) ([]*models.Conversation, error) {
	out, err := p.scan(func(c *models.Conversation) bool { return matches(c, filter) })
	if err != nil {
		return nil, err
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// scan returns the stored conversations accepted by keep, oldest first.
func (p *Persistence) scan(keep func(*models.Conversation) bool) ([]*models.Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.path("conversations"))
	if err != nil {
		if isNotExist(err) {
			return make([]*models.Conversation, 0), nil
		}

		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]*models.Conversation, 0)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var c models.Conversation

		err := readJSON(p.path("conversations", entry.Name()), &c)
		if err != nil {
			return nil, err
		}

		if keep(&c) {
			out = append(out, &c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

// AppendMessage adds one JSON line to the conversation transcript.
func (p *Persistence) AppendMessage(_ context.Context, message *models.Message) error {
	if err := checkID(message.ConversationID); err != nil {
		return persistence.NewConversationError("AppendMessage", message.ConversationID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.MkdirAll(p.path("messages"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create messages directory: %w", err)
	}

	line, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", message.ID, err)
	}

	f, err := os.OpenFile(p.path("messages", message.ConversationID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return persistence.NewConversationError("AppendMessage", message.ConversationID, err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	if err != nil {
		return persistence.NewConversationError("AppendMessage", message.ConversationID, err)
	}

	return nil
}

func (p *Persistence) Messages(_ context.Context, conversationID string) ([]*models.Message, error) {
	if err := checkID(conversationID); err != nil {
		return nil, persistence.NewConversationError("Messages", conversationID, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Message, 0)

	f, err := os.Open(p.path("messages", conversationID+".jsonl"))
	if err != nil {
		if isNotExist(err) {
			return out, nil
		}

		return nil, persistence.NewConversationError("Messages", conversationID, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var m models.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message of %s: %w", conversationID, err)
		}

		out = append(out, &m)
	}

	if err := scanner.Err(); err != nil {
		return nil, persistence.NewConversationError("Messages", conversationID, err)
	}

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
