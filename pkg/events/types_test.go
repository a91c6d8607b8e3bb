package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseChannel(t *testing.T) {
	tests := []struct {
		name      string
		commandID string
		want      string
	}{
		{
			name:      "formats command channel correctly",
			commandID: "abc-123",
			want:      "response:abc-123",
		},
		{
			name:      "handles UUID format",
			commandID: "550e8400-e29b-41d4-a716-446655440000",
			want:      "response:550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:      "handles empty string",
			commandID: "",
			want:      "response:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResponseChannel(tt.commandID)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeResponse,
		EventTypeStatus,
		EventTypeError,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}
