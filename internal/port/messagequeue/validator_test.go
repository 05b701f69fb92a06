package messagequeue

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr string
	}{
		{
			name:    "valid task submit",
			subject: SubjectTaskSubmit,
			data:    `{"agent_id":"curve-agent","task_type":"list_curves","task_data":{}}`,
		},
		{
			name:    "task submit missing agent",
			subject: SubjectTaskSubmit,
			data:    `{"task_type":"list_curves"}`,
			wantErr: "agent_id and task_type are required",
		},
		{
			name:    "task submit wrong field type",
			subject: SubjectTaskSubmit,
			data:    `{"agent_id":42,"task_type":"x"}`,
			wantErr: "schema validation failed",
		},
		{
			name:    "valid composite",
			subject: SubjectCompositeSubmit,
			data:    `{"description":"d","agent_tasks":{"a":{"type":"t","data":{}}}}`,
		},
		{
			name:    "empty composite",
			subject: SubjectCompositeSubmit,
			data:    `{"description":"d","agent_tasks":{}}`,
			wantErr: "agent_tasks must not be empty",
		},
		{
			name:    "event",
			subject: SubjectEvents + ".task.completed",
			data:    `{"type":"task.completed","task_id":"t1","result":{"ok":true}}`,
		},
		{
			name:    "invalid json",
			subject: SubjectTaskSubmit,
			data:    `{not json`,
			wantErr: "invalid JSON",
		},
		{
			name:    "unknown subject passes",
			subject: "other.subject",
			data:    `{"anything":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
