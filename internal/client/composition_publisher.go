package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// TaskTypeCompose is the asynq task type consumed by the composition service
const TaskTypeCompose = "composition:compose"

// CompositionPublisher hands a ready render to the composition collaborator.
type CompositionPublisher interface {
	PublishComposition(ctx context.Context, payload *model.CompositionPayload) error
}

// AsynqPublisher publishes composition tasks to an asynq queue. The render
// id is the task id, so redelivered composition jobs do not publish twice.
type AsynqPublisher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqPublisher(client *asynq.Client, queue string) *AsynqPublisher {
	return &AsynqPublisher{client: client, queue: queue}
}

func (p *AsynqPublisher) PublishComposition(ctx context.Context, payload *model.CompositionPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal composition payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeCompose, data)
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.TaskID(payload.RenderID),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Printf("[Composition] task for render %s already published", payload.RenderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue composition task: %w", err)
	}

	log.Printf("[Composition] published task %s (render=%s, segments=%d) on queue %s", info.ID, payload.RenderID, len(payload.Segments), info.Queue)
	return nil
}

// LogPublisher only logs the manifest; used when no collaborator is deployed.
type LogPublisher struct{}

func (LogPublisher) PublishComposition(ctx context.Context, payload *model.CompositionPayload) error {
	log.Printf("[Composition] render %s ready with %d segments (no publisher configured)", payload.RenderID, len(payload.Segments))
	return nil
}
