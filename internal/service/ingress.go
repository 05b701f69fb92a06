package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/messagequeue"
)

// ListenQueue subscribes the runner to fire-and-forget submissions on
// swarm.tasks.submit and swarm.composites.submit. The returned function
// cancels both subscriptions.
func (r *Runner) ListenQueue(ctx context.Context, q messagequeue.Queue) (func(), error) {
	stopTasks, err := q.Subscribe(ctx, messagequeue.SubjectTaskSubmit, r.HandleTaskMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTaskSubmit, err)
	}
	stopComposites, err := q.Subscribe(ctx, messagequeue.SubjectCompositeSubmit, r.HandleCompositeMessage)
	if err != nil {
		stopTasks()
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectCompositeSubmit, err)
	}
	return func() {
		stopTasks()
		stopComposites()
	}, nil
}

// HandleTaskMessage submits one queued task. Validation failures are logged
// and acknowledged; redelivery could never make them succeed.
func (r *Runner) HandleTaskMessage(ctx context.Context, _ string, data []byte) error {
	var msg messagequeue.TaskSubmitPayload
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.FromContext(ctx, r.log).Warn("discarding malformed task message", "error", err)
		return nil
	}
	id, err := r.SubmitTask(ctx, msg.AgentID, task.Type(msg.TaskType), msg.TaskData, msg.Priority)
	return r.ingressResult(ctx, "task", id, err)
}

// HandleCompositeMessage submits one queued composite request.
func (r *Runner) HandleCompositeMessage(ctx context.Context, _ string, data []byte) error {
	var msg messagequeue.CompositeSubmitPayload
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.FromContext(ctx, r.log).Warn("discarding malformed composite message", "error", err)
		return nil
	}
	reqs := make(map[string]SubtaskRequest, len(msg.AgentTasks))
	for agentID, st := range msg.AgentTasks {
		reqs[agentID] = SubtaskRequest{Type: task.Type(st.Type), Data: st.Data, Priority: st.Priority}
	}
	id, err := r.SubmitCompositeTask(ctx, msg.Description, reqs)
	return r.ingressResult(ctx, "composite", id, err)
}

func (r *Runner) ingressResult(ctx context.Context, kind, id string, err error) error {
	log := logger.FromContext(ctx, r.log)
	switch {
	case err == nil:
		log.Info("queued "+kind+" accepted", "id", id)
		return nil
	case errors.Is(err, domain.ErrValidation):
		log.Warn("queued "+kind+" rejected", "error", err)
		return nil
	default:
		return err
	}
}
