package sql

import (
	"context"
	"encoding/json"

	apperr "flowengine/errors"
	core "flowengine/data/db"
	"flowengine/graph"
)

// ProcessStore is the durable store.ProcessStore. Save assigns each new row
// the next version for its key inside a transaction that also flips the
// previous latest row to non-latest, so GetByKey never observes two latest
// rows for the same key even under concurrent Save calls.
type ProcessStore struct {
	db core.IDatabase
}

func NewProcessStore(database core.IDatabase) *ProcessStore {
	return &ProcessStore{db: database}
}

type elementRow struct {
	Id             string `json:"id"`
	Kind           int    `json:"kind"`
	Name           string `json:"name"`
	Implementation string `json:"implementation,omitempty"`
	Script         string `json:"script,omitempty"`
	Default        string `json:"default,omitempty"`
}

func (s *ProcessStore) Save(ctx context.Context, def *graph.Definition) error {
	elementsJSON, err := json.Marshal(toElementRows(def.Elements()))
	if err != nil {
		return apperr.Wrap(ctx, err, apperr.ErrCodeInternal, "marshal definition elements")
	}
	flowsJSON, err := json.Marshal(def.Flows())
	if err != nil {
		return apperr.Wrap(ctx, err, apperr.ErrCodeInternal, "marshal definition flows")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "begin process definition save")
	}
	defer tx.Rollback()

	var currentMax int
	row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM process_definitions WHERE key = ?`, def.Key)
	if err := row.Scan(&currentMax); err != nil {
		return apperr.WrapDatabaseError(ctx, err, "read current definition version")
	}

	if _, err := tx.Exec(ctx, `UPDATE process_definitions SET is_latest = 0 WHERE key = ? AND is_latest = 1`, def.Key); err != nil {
		return apperr.WrapDatabaseError(ctx, err, "demote previous latest definition")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO process_definitions (id, key, version, name, xml, elements_json, flows_json, is_latest, created_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, datetime('now'))`,
		def.Id, def.Key, currentMax+1, def.Name, string(def.Source), string(elementsJSON), string(flowsJSON),
	)
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "insert process definition")
	}

	if err := tx.Commit(); err != nil {
		return apperr.WrapDatabaseError(ctx, err, "commit process definition save")
	}
	return nil
}

func (s *ProcessStore) GetByKey(ctx context.Context, key string) (*graph.Definition, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, key, name, xml, elements_json, flows_json
		FROM process_definitions WHERE key = ? AND is_latest = 1`, key)
	return scanDefinition(ctx, row)
}

func (s *ProcessStore) GetById(ctx context.Context, id string) (*graph.Definition, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, key, name, xml, elements_json, flows_json
		FROM process_definitions WHERE id = ?`, id)
	return scanDefinition(ctx, row)
}

func (s *ProcessStore) GetAll(ctx context.Context) ([]*graph.Definition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, key, name, xml, elements_json, flows_json
		FROM process_definitions WHERE is_latest = 1`)
	if err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "query all latest definitions")
	}
	defer rows.Close()

	var out []*graph.Definition
	for rows.Next() {
		var id, key, name, xml, elementsJSON, flowsJSON string
		if err := rows.Scan(&id, &key, &name, &xml, &elementsJSON, &flowsJSON); err != nil {
			return nil, apperr.WrapDatabaseError(ctx, err, "scan definition row")
		}
		def, err := buildDefinition(id, key, name, xml, elementsJSON, flowsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "iterate definition rows")
	}
	return out, nil
}

func scanDefinition(ctx context.Context, row core.IRow) (*graph.Definition, error) {
	var id, key, name, xml, elementsJSON, flowsJSON string
	if err := row.Scan(&id, &key, &name, &xml, &elementsJSON, &flowsJSON); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(ctx, err, apperr.ErrCodeDatabase, "scan process definition")
	}
	return buildDefinition(id, key, name, xml, elementsJSON, flowsJSON)
}

func buildDefinition(id, key, name, xml, elementsJSON, flowsJSON string) (*graph.Definition, error) {
	var rows []elementRow
	if err := json.Unmarshal([]byte(elementsJSON), &rows); err != nil {
		return nil, apperr.New(apperr.ErrCodeInternal, "unmarshal definition elements: "+err.Error())
	}
	var flows []graph.SequenceFlow
	if err := json.Unmarshal([]byte(flowsJSON), &flows); err != nil {
		return nil, apperr.New(apperr.ErrCodeInternal, "unmarshal definition flows: "+err.Error())
	}

	elements := make(map[string]*graph.Element, len(rows))
	for _, r := range rows {
		elements[r.Id] = &graph.Element{
			Id:             r.Id,
			Kind:           graph.ElementKind(r.Kind),
			Name:           r.Name,
			Implementation: r.Implementation,
			Script:         r.Script,
			Default:        r.Default,
		}
	}

	return graph.NewDefinition(id, key, name, []byte(xml), elements, flows), nil
}

func toElementRows(elements map[string]*graph.Element) []elementRow {
	rows := make([]elementRow, 0, len(elements))
	for _, e := range elements {
		rows = append(rows, elementRow{
			Id:             e.Id,
			Kind:           int(e.Kind),
			Name:           e.Name,
			Implementation: e.Implementation,
			Script:         e.Script,
			Default:        e.Default,
		})
	}
	return rows
}
