package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
)

// CompositionWorker hands ready renders to the composition collaborator.
type CompositionWorker struct {
	orchestrator *service.Orchestrator
	publisher    client.CompositionPublisher
}

func NewCompositionWorker(orchestrator *service.Orchestrator, publisher client.CompositionPublisher) *CompositionWorker {
	return &CompositionWorker{
		orchestrator: orchestrator,
		publisher:    publisher,
	}
}

// Process publishes the composition manifest of one render.
func (w *CompositionWorker) Process(ctx context.Context, job *model.RenderJob) (model.JobResult, error) {
	if job.Cancelled {
		return model.JobResult{Error: "cancelled"}, nil
	}

	var payload model.CompositionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("[Composition] job %s has an invalid payload: %v", job.ID, err)
		return model.JobResult{Error: "invalid payload"}, nil
	}

	if err := w.publisher.PublishComposition(ctx, &payload); err != nil {
		return model.JobResult{}, fmt.Errorf("failed to publish composition of render %s: %w", payload.RenderID, err)
	}
	if err := w.orchestrator.MarkCompositionDispatched(ctx, payload.RenderID); err != nil {
		return model.JobResult{}, err
	}
	return model.JobResult{}, nil
}
