package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// eventEnvelope is the wire format posted to receiver endpoints.
type eventEnvelope struct {
	Event     string       `json:"event"`
	EventID   string       `json:"eventId"`
	Timestamp string       `json:"timestamp"`
	TenantID  string       `json:"tenantId"`
	SubjectID string       `json:"subjectId"`
	Data      RiskSnapshot `json:"data"`
}

// MarshalEventPayload serializes the wire envelope exactly once. The returned
// bytes are stored with the event and reused for both signing and
// transmission; re-serializing later could change key order or whitespace and
// break signature verification on the receiver side.
func MarshalEventPayload(externalEventID, tenantID, subjectID string, snapshot RiskSnapshot, at time.Time) ([]byte, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(eventEnvelope{
		Event:     EventTypeRiskFlagged,
		EventID:   externalEventID,
		Timestamp: at.UTC().Format(time.RFC3339),
		TenantID:  tenantID,
		SubjectID: subjectID,
		Data:      snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return payload, nil
}
