package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject, including required fields. Unknown
// subjects only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectTaskSubmit:
		var p TaskSubmitPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.AgentID == "" || p.TaskType == "" {
			return fmt.Errorf("schema validation failed for %s: agent_id and task_type are required", subject)
		}
	case subject == SubjectCompositeSubmit:
		var p CompositeSubmitPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if len(p.AgentTasks) == 0 {
			return fmt.Errorf("schema validation failed for %s: agent_tasks must not be empty", subject)
		}
	case strings.HasPrefix(subject, SubjectEvents+"."):
		var p EventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
