package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectTurnCompleted:
		var p TurnCompletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.SessionID == "" {
			return fmt.Errorf("schema validation failed for %s: session_id is required", subject)
		}
	case strings.HasPrefix(subject, SubjectSessionEvents+"."):
		var p SessionEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.EventID == "" || p.SessionID == "" {
			return fmt.Errorf("schema validation failed for %s: event_id and session_id are required", subject)
		}
		if want := SessionEventsSubject(p.SessionID); subject != want {
			return fmt.Errorf("schema validation failed for %s: session %s belongs on %s", subject, p.SessionID, want)
		}
	}
	return nil
}
