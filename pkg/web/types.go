package web

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// InboundEventRequest is the body of POST /channels/:channelId/events.
type InboundEventRequest struct {
	ID             string             `json:"id"`
	Kind           models.EventKind   `json:"kind"             validate:"required,oneof=message dtmf call_start hangup close"`
	ChannelType    models.ChannelType `json:"channel_type"     validate:"required,oneof=voice whatsapp webchat sms telegram"`
	ExternalUserID string             `json:"external_user_id" validate:"required"`
	To             string             `json:"to"`
	Text           string             `json:"text"`
	MediaURL       string             `json:"media_url"        validate:"omitempty,url"`
	Payload        map[string]any     `json:"payload"`
}

// Event builds the engine event received on channelID.
func (r InboundEventRequest) Event(channelID string, receivedAt time.Time) *models.InboundEvent {
	return &models.InboundEvent{
		ID:             r.ID,
		Kind:           r.Kind,
		ChannelID:      channelID,
		ChannelType:    r.ChannelType,
		ExternalUserID: r.ExternalUserID,
		To:             r.To,
		Text:           r.Text,
		MediaURL:       r.MediaURL,
		Payload:        r.Payload,
		ReceivedAt:     receivedAt,
	}
}

type AcceptedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// FlowResponse describes the snapshot new conversations of a flow start on.
type FlowResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        models.FlowType   `json:"type"`
	Version     int               `json:"version"`
	Active      bool              `json:"active"`
	EntryNodeID string            `json:"entry_node_id"`
	Nodes       int               `json:"nodes"`
	Edges       int               `json:"edges"`
	Triggers    []*models.Trigger `json:"triggers"`
}

func newFlowResponse(flow *models.Flow, entry string) FlowResponse {
	return FlowResponse{
		ID:          flow.ID,
		Name:        flow.Name,
		Type:        flow.Type,
		Version:     flow.Version,
		Active:      flow.Active,
		EntryNodeID: entry,
		Nodes:       len(flow.Nodes),
		Edges:       len(flow.Edges),
		Triggers:    flow.Triggers,
	}
}
