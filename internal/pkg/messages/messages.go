package messages

import (
	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "MINTO/"
	// Transcribe queue name
	Transcribe = st + "Transcribe"
	// Generate queue name
	Generate = st + "Generate"
	// StatusChange queue name
	StatusChange = st + "StatusChange"
	// Inform queue name
	Inform = st + "Inform"
)

// SessionMessage main message passing through the minto session pipeline,
// QueueMessage.ID carries the session ID
type SessionMessage struct {
	amessages.QueueMessage
	Owner          string `json:"owner,omitempty"`
	OrganizationID string `json:"organizationID,omitempty"`
	Language       string `json:"language,omitempty"`
	BlobName       string `json:"blobName,omitempty"`
}

// GenerationMessage asks a worker to produce one artifact kind for a session
type GenerationMessage struct {
	SessionMessage
	Kind string `json:"kind,omitempty"`
}

// NewMessageFrom creates a copy of a message
func NewMessageFrom(m *SessionMessage) *SessionMessage {
	return &SessionMessage{QueueMessage: m.QueueMessage, Owner: m.Owner,
		OrganizationID: m.OrganizationID, Language: m.Language, BlobName: m.BlobName}
}
