package domain

import "encoding/json"

// EventType enumerates the webhook ticket event identifiers.
type EventType string

const (
	EventCreateTicket EventType = "CREATE_TICKET"
	EventUpdateTicket EventType = "UPDATE_TICKET"
	EventDeleteTicket EventType = "DELETE_TICKET"
)

// WebhookSource identifies the channel and actor behind a change.
type WebhookSource struct {
	Channel    string `json:"_channel"`
	ExternalID string `json:"_externalId"`
	FullName   string `json:"_fullName"`
}

// WebhookAttachment is an attachment reference on a delivery.
type WebhookAttachment struct {
	Size int64  `json:"_size"`
	Type string `json:"_type"`
	Path string `json:"path"`
	Name string `json:"name"`
}

// WebhookPayload is the JSON body of one webhook delivery. Data holds the
// full remote ticket on creation and a partial delta on update; it is
// kept raw here and decoded by the handler that knows which shape to
// expect.
type WebhookPayload struct {
	ID          string              `json:"_id"`
	Type        EventType           `json:"_type"`
	Ticket      string              `json:"_ticket"`
	Source      WebhookSource       `json:"_source"`
	Data        json.RawMessage     `json:"data"`
	Attachments []WebhookAttachment `json:"attachments"`
}
