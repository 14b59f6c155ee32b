package store

import (
	"errors"
	"testing"

	"github.com/secfuse/secfuse/internal/models"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    models.WorkflowState
		to      models.WorkflowState
		wantErr bool
	}{
		{"new to notified", models.WorkflowNew, models.WorkflowNotified, false},
		{"new to suppressed", models.WorkflowNew, models.WorkflowSuppressed, false},
		{"new to resolved", models.WorkflowNew, models.WorkflowResolved, false},
		{"notified to resolved", models.WorkflowNotified, models.WorkflowResolved, false},
		{"suppressed to resolved", models.WorkflowSuppressed, models.WorkflowResolved, false},
		{"notified to new", models.WorkflowNotified, models.WorkflowNew, true},
		{"resolved to new", models.WorkflowResolved, models.WorkflowNew, true},
		{"resolved to suppressed", models.WorkflowResolved, models.WorkflowSuppressed, true},
		{"suppressed to notified", models.WorkflowSuppressed, models.WorkflowNotified, true},
		{"same state", models.WorkflowNotified, models.WorkflowNotified, true},
		{"unknown target", models.WorkflowNew, models.WorkflowState("CLOSED"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
