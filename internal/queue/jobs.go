package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ReprocessTask regenerates every styled variant of a photo from its
	// persisted original, e.g. after the style configuration changed.
	ReprocessTask = "attachment:reprocess"
)

// ReprocessPayload identifies the photo whose variants are rebuilt.
type ReprocessPayload struct {
	PhotoID string `json:"photo_id"`
}

// EnqueueReprocess schedules a variant-regeneration job.
func EnqueueReprocess(ctx context.Context, client *asynq.Client, payload ReprocessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ReprocessTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue reprocess task: %w", err)
	}
	return nil
}
