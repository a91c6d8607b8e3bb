package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponsePayload(t *testing.T) {
	t.Run("creates response payload with all fields", func(t *testing.T) {
		payload := ResponsePayload{
			Type:            EventTypeResponse,
			CommandID:       "cmd-123",
			ResponseID:      7,
			ResponsePayload: map[string]any{"dtc_codes": []string{"P0420"}},
			SequenceNumber:  1,
			IsFinal:         false,
			ReceivedAt:      time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeResponse, payload.Type)
		assert.Equal(t, "cmd-123", payload.CommandID)
		assert.Equal(t, 7, payload.ResponseID)
		assert.Equal(t, 1, payload.SequenceNumber)
		assert.False(t, payload.IsFinal)
		assert.NotEmpty(t, payload.ReceivedAt)
	})

	t.Run("final chunk sets is_final", func(t *testing.T) {
		payload := ResponsePayload{
			Type:           EventTypeResponse,
			CommandID:      "cmd-456",
			ResponseID:     3,
			SequenceNumber: 3,
			IsFinal:        true,
			ReceivedAt:     time.Now().Format(time.RFC3339Nano),
		}

		assert.True(t, payload.IsFinal)
	})

	t.Run("sequence numbers increase across chunks", func(t *testing.T) {
		var payloads []ResponsePayload
		for i := 1; i <= 3; i++ {
			payloads = append(payloads, ResponsePayload{
				Type:           EventTypeResponse,
				CommandID:      "cmd-789",
				SequenceNumber: i,
				IsFinal:        i == 3,
			})
		}

		assert.Equal(t, 1, payloads[0].SequenceNumber)
		assert.Equal(t, 2, payloads[1].SequenceNumber)
		assert.Equal(t, 3, payloads[2].SequenceNumber)
		assert.True(t, payloads[2].IsFinal)
	})
}

func TestStatusPayload(t *testing.T) {
	t.Run("creates status payload for in_progress", func(t *testing.T) {
		payload := StatusPayload{
			Type:      EventTypeStatus,
			CommandID: "cmd-123",
			Status:    "in_progress",
		}

		assert.Equal(t, EventTypeStatus, payload.Type)
		assert.Equal(t, "in_progress", payload.Status)
		assert.Empty(t, payload.CompletedAt)
	})

	t.Run("completed status sets completed_at", func(t *testing.T) {
		payload := StatusPayload{
			Type:        EventTypeStatus,
			CommandID:   "cmd-123",
			Status:      "completed",
			CompletedAt: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, "completed", payload.Status)
		assert.NotEmpty(t, payload.CompletedAt)
	})

	t.Run("supports all terminal and non-terminal statuses", func(t *testing.T) {
		statuses := []string{"pending", "in_progress", "completed", "failed"}
		for _, status := range statuses {
			payload := StatusPayload{Type: EventTypeStatus, CommandID: "cmd-1", Status: status}
			assert.Equal(t, status, payload.Status)
		}
	})
}

func TestErrorPayload(t *testing.T) {
	t.Run("creates error payload", func(t *testing.T) {
		payload := ErrorPayload{
			Type:         EventTypeError,
			CommandID:    "cmd-999",
			ErrorMessage: "vehicle disconnected mid-command",
		}

		assert.Equal(t, EventTypeError, payload.Type)
		assert.Equal(t, "cmd-999", payload.CommandID)
		assert.Equal(t, "vehicle disconnected mid-command", payload.ErrorMessage)
	})
}
