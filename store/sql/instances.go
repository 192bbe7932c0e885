package sql

import (
	"context"
	"encoding/json"
	"sort"

	core "flowengine/data/db"
	apperr "flowengine/errors"
	"flowengine/process"
)

// InstanceStore is the durable store.InstanceStore. Save uses a version-
// guarded UPDATE (or a plain INSERT for a brand-new row) so a writer
// holding a stale ConcurrencyToken gets a concurrency error rather than
// silently clobbering a fresher row.
type InstanceStore struct {
	db core.IDatabase
}

func NewInstanceStore(database core.IDatabase) *InstanceStore {
	return &InstanceStore{db: database}
}

func (s *InstanceStore) Save(ctx context.Context, instance *process.Instance) error {
	variablesJSON, err := json.Marshal(instance.Variables)
	if err != nil {
		return apperr.Wrap(ctx, err, apperr.ErrCodeInternal, "marshal instance variables")
	}
	tokensJSON, err := json.Marshal(sortedKeys(instance.ActiveTokens))
	if err != nil {
		return apperr.Wrap(ctx, err, apperr.ErrCodeInternal, "marshal active tokens")
	}
	joinWaitsJSON, err := json.Marshal(instance.ParallelJoinWaits)
	if err != nil {
		return apperr.Wrap(ctx, err, apperr.ErrCodeInternal, "marshal parallel join waits")
	}

	status := statusRunning
	if instance.IsCompleted {
		status = statusCompleted
	}
	nextToken := process.NextVersion(instance.ConcurrencyToken)

	var existingCount int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM process_instances WHERE id = ?`, instance.Id).Scan(&existingCount); err != nil {
		return apperr.WrapDatabaseError(ctx, err, "check existing instance row")
	}

	if existingCount == 0 {
		_, err = s.db.Exec(ctx, `
			INSERT INTO process_instances
				(id, process_definition_id, process_key, status, variables_json, active_tokens_json,
				 parallel_join_waits_json, simulation_mode, created_utc, concurrency_token)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), ?)`,
			instance.Id, instance.ProcessDefinition, instance.ProcessKey, status,
			string(variablesJSON), string(tokensJSON), string(joinWaitsJSON),
			boolToInt(instance.SimulationMode), nextToken,
		)
		if err != nil {
			return apperr.WrapDatabaseError(ctx, err, "insert process instance")
		}
		instance.ConcurrencyToken = nextToken
		return nil
	}

	result, err := s.db.Exec(ctx, `
		UPDATE process_instances
		SET status = ?, variables_json = ?, active_tokens_json = ?, parallel_join_waits_json = ?,
			concurrency_token = ?
		WHERE id = ? AND concurrency_token = ?`,
		status, string(variablesJSON), string(tokensJSON), string(joinWaitsJSON),
		nextToken, instance.Id, instance.ConcurrencyToken,
	)
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "update process instance")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "read rows affected for instance update")
	}
	if affected == 0 {
		return apperr.NewConcurrencyConflict("instance:" + instance.Id)
	}

	instance.ConcurrencyToken = nextToken
	return nil
}

func (s *InstanceStore) GetById(ctx context.Context, id string) (*process.Instance, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, process_definition_id, process_key, status, variables_json, active_tokens_json,
			parallel_join_waits_json, simulation_mode, concurrency_token
		FROM process_instances WHERE id = ?`, id)
	return scanInstance(ctx, row)
}

func (s *InstanceStore) GetByProcessKey(ctx context.Context, key string) ([]*process.Instance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, process_definition_id, process_key, status, variables_json, active_tokens_json,
			parallel_join_waits_json, simulation_mode, concurrency_token
		FROM process_instances WHERE process_key = ?`, key)
	if err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "query instances by process key")
	}
	defer rows.Close()

	var out []*process.Instance
	for rows.Next() {
		inst, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "iterate instance rows")
	}
	return out, nil
}

// rowScanner is satisfied by both core.IRow and core.IRows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(ctx context.Context, row core.IRow) (*process.Instance, error) {
	inst, err := scanInstanceRow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(ctx, err, apperr.ErrCodeDatabase, "scan process instance")
	}
	return inst, nil
}

func scanInstanceRow(row rowScanner) (*process.Instance, error) {
	var (
		id, definitionId, processKey, status     string
		variablesJSON, tokensJSON, joinWaitsJSON string
		simulationModeInt                        int
		concurrencyToken                         []byte
	)
	if err := row.Scan(&id, &definitionId, &processKey, &status, &variablesJSON, &tokensJSON,
		&joinWaitsJSON, &simulationModeInt, &concurrencyToken); err != nil {
		return nil, err
	}

	var variables process.Variables
	if err := json.Unmarshal([]byte(variablesJSON), &variables); err != nil {
		return nil, apperr.New(apperr.ErrCodeInternal, "unmarshal instance variables: "+err.Error())
	}
	var tokenIds []string
	if err := json.Unmarshal([]byte(tokensJSON), &tokenIds); err != nil {
		return nil, apperr.New(apperr.ErrCodeInternal, "unmarshal active tokens: "+err.Error())
	}
	var joinWaits map[string]int
	if err := json.Unmarshal([]byte(joinWaitsJSON), &joinWaits); err != nil {
		return nil, apperr.New(apperr.ErrCodeInternal, "unmarshal parallel join waits: "+err.Error())
	}

	activeTokens := make(map[string]struct{}, len(tokenIds))
	for _, t := range tokenIds {
		activeTokens[t] = struct{}{}
	}
	if joinWaits == nil {
		joinWaits = make(map[string]int)
	}

	return &process.Instance{
		Id:                id,
		ProcessDefinition: definitionId,
		ProcessKey:        processKey,
		Variables:         variables,
		ActiveTokens:      activeTokens,
		ParallelJoinWaits: joinWaits,
		IsCompleted:       status == statusCompleted,
		SimulationMode:    simulationModeInt != 0,
		ConcurrencyToken:  concurrencyToken,
	}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
