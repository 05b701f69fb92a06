package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

// EventStore archives task and composite lifecycle events (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event. Results are stored as JSON.
func (s *EventStore) Append(ctx context.Context, e event.TaskEvent) error {
	var result []byte
	if e.Result != nil {
		raw, err := json.Marshal(e.Result)
		if err != nil {
			return fmt.Errorf("marshal event result: %w", err)
		}
		result = raw
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_events (event_type, task_id, agent_id, task_type, composite_id, result, error, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.Type), e.TaskID, e.AgentID, string(e.TaskType), e.CompositeID, result, e.Error, e.RequestID, ts)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for task_events queries.
const eventColumns = `event_type, task_id, agent_id, task_type, composite_id, result, error, request_id, created_at`

// scanEvent scans a row into a TaskEvent; the result stays raw JSON.
func scanEvent(row scannable) (event.TaskEvent, error) {
	var (
		e        event.TaskEvent
		typ      string
		taskType string
		result   []byte
	)
	if err := row.Scan(&typ, &e.TaskID, &e.AgentID, &taskType, &e.CompositeID, &result, &e.Error, &e.RequestID, &e.Timestamp); err != nil {
		return e, err
	}
	e.Type = event.Type(typ)
	e.TaskType = task.Type(taskType)
	if len(result) > 0 {
		e.Result = json.RawMessage(result)
	}
	return e, nil
}

// LoadByTask returns the events of one task in the order they were appended.
func (s *EventStore) LoadByTask(ctx context.Context, taskID string) ([]event.TaskEvent, error) {
	return s.load(ctx, `task_id = $1`, taskID)
}

// LoadByComposite returns the events of one composite task.
func (s *EventStore) LoadByComposite(ctx context.Context, compositeID string) ([]event.TaskEvent, error) {
	return s.load(ctx, `composite_id = $1`, compositeID)
}

func (s *EventStore) load(ctx context.Context, where, id string) ([]event.TaskEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM task_events WHERE %s ORDER BY id ASC`, eventColumns, where), id)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", id, err)
	}
	defer rows.Close()

	var events []event.TaskEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return orEmpty(events), rows.Err()
}

// Prune deletes events created before cutoff and reports how many were removed.
func (s *EventStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}
