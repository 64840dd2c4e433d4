package hub

import (
	"alcyxob/coachsync/internal/domain"
	"time"
)

// Envelope is the outbound notification frame.
type Envelope struct {
	Type      domain.EventType `json:"type"`
	Data      EnvelopeData     `json:"data"`
	Timestamp string           `json:"timestamp"`
	SubjectID string           `json:"subject_id"`
	CoachID   string           `json:"coach_id"`
}

// EnvelopeData identifies what changed. Clients re-read the store for the
// full state.
type EnvelopeData struct {
	ProgramID string `json:"program_id"`
	SubjectID string `json:"subject_id"`
	CoachID   string `json:"coach_id"`

	Kind domain.PlanChange `json:"kind,omitempty"`

	CompletionID  string `json:"completion_id,omitempty"`
	ItemID        string `json:"item_id,omitempty"`
	OccurrenceKey string `json:"occurrence_key,omitempty"`
	Revision      int64  `json:"revision,omitempty"`
	Revoked       bool   `json:"revoked,omitempty"`
}

// NewEnvelope renders e for the wire.
func NewEnvelope(e domain.Event) Envelope {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	data := EnvelopeData{
		ProgramID:     e.ProgramID.Hex(),
		SubjectID:     e.SubjectID.Hex(),
		CoachID:       e.CoachID.Hex(),
		Kind:          e.Change,
		OccurrenceKey: e.OccurrenceKey,
		Revision:      e.Revision,
		Revoked:       e.Revoked,
	}
	if e.CompletionID != nil {
		data.CompletionID = e.CompletionID.Hex()
	}
	if e.ItemID != nil {
		data.ItemID = e.ItemID.Hex()
	}
	return Envelope{
		Type:      e.Type,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339),
		SubjectID: data.SubjectID,
		CoachID:   data.CoachID,
	}
}
