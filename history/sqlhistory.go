package history

import (
	"context"
	"database/sql"

	core "flowengine/data/db"
	apperr "flowengine/errors"
)

// SQLStore is a durable Store backed by the step_executions table. Its DDL
// is StepExecutionsSchema, applied on its own; flowengine/store/sql.Schema
// does not create this table.
type SQLStore struct {
	db core.IDatabase
}

func NewSQLStore(database core.IDatabase) *SQLStore {
	return &SQLStore{db: database}
}

const StepExecutionsSchema = `
CREATE TABLE IF NOT EXISTS step_executions (
	instance_id            TEXT NOT NULL,
	process_definition_id  TEXT NOT NULL,
	process_key            TEXT NOT NULL,
	element_id             TEXT NOT NULL,
	element_type           TEXT NOT NULL,
	sequence               INTEGER NOT NULL,
	start_utc              DATETIME NOT NULL,
	end_utc                DATETIME,
	status                 TEXT NOT NULL,
	error                  TEXT,
	PRIMARY KEY (instance_id, sequence)
);
`

func (s *SQLStore) Append(ctx context.Context, record Record) error {
	var endUtc any
	if !record.EndUtc.IsZero() {
		endUtc = record.EndUtc
	}
	var errText any
	if record.Error != "" {
		errText = record.Error
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO step_executions
			(instance_id, process_definition_id, process_key, element_id, element_type, sequence,
			 start_utc, end_utc, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.InstanceId, record.ProcessDefinition, record.ProcessKey, record.ElementId, record.ElementType,
		record.Sequence, record.StartUtc, endUtc, record.Status, errText,
	)
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "append step execution record")
	}
	return nil
}

func (s *SQLStore) ListByInstance(ctx context.Context, instanceId string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT instance_id, process_definition_id, process_key, element_id, element_type, sequence,
			start_utc, end_utc, status, error
		FROM step_executions WHERE instance_id = ? ORDER BY sequence ASC`, instanceId)
	if err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "list step execution records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var endUtc sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(&r.InstanceId, &r.ProcessDefinition, &r.ProcessKey, &r.ElementId, &r.ElementType,
			&r.Sequence, &r.StartUtc, &endUtc, &r.Status, &errText); err != nil {
			return nil, apperr.WrapDatabaseError(ctx, err, "scan step execution record")
		}
		if endUtc.Valid {
			r.EndUtc = endUtc.Time
		}
		if errText.Valid {
			r.Error = errText.String
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "iterate step execution rows")
	}
	return out, nil
}
