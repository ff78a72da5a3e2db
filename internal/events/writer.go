package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Writer appends entries to the events table.
type Writer struct {
	DB  *sql.DB
	Log *slog.Logger
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one event row and returns any storage error.
func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID string, payload Payload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), string(data))
	return err
}

// Emit is the fire-and-forget variant: storage failures are logged and
// discarded so event emission can never break the caller.
func (w Writer) Emit(ctx context.Context, evtType, entityKind, entityID string, payload Payload) {
	if err := w.Append(ctx, evtType, entityKind, entityID, payload); err != nil {
		log := w.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("event emit failed", "type", evtType, "err", err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
