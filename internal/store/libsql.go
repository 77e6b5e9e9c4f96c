package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/agentgraph/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

// SaveWorkflow inserts or replaces the workflow document.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is empty")
	}
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, user_id, schedule, document, node_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, user_id=excluded.user_id, schedule=excluded.schedule,
		   document=excluded.document, node_count=excluded.node_count, updated_at=excluded.updated_at`,
		wf.ID, nullStr(wf.Name), nullStr(wf.UserID), nullStr(wf.Schedule),
		string(doc), len(wf.Nodes), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM workflows WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(doc), wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode workflow %q", id).WithCause(err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowSummary, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Scheduled {
		where = append(where, "schedule IS NOT NULL AND schedule != ''")
	}

	query := `SELECT id, name, user_id, schedule, node_count, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowSummary
	for rows.Next() {
		ws := &WorkflowSummary{}
		var name, userID, schedule sql.NullString
		if err := rows.Scan(&ws.ID, &name, &userID, &schedule, &ws.NodeCount, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		ws.Name = name.String
		ws.UserID = userID.String
		ws.Schedule = schedule.String
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Agents ---

func (s *LibSQLStore) UpsertAgent(ctx context.Context, agent *schema.AgentDefinition) error {
	def, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, category, definition, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category,
		   definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		agent.ID, agent.Name, string(agent.Category), string(def),
	)
	return err
}

func (s *LibSQLStore) GetAgent(ctx context.Context, id string) (*schema.AgentDefinition, error) {
	var def string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM agents WHERE id = ?`, id).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	a := &schema.AgentDefinition{}
	if err := json.Unmarshal([]byte(def), a); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode agent %q", id).WithCause(err)
	}
	return a, nil
}

func (s *LibSQLStore) ListAgents(ctx context.Context) ([]*schema.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM agents ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.AgentDefinition
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		a := &schema.AgentDefinition{}
		if err := json.Unmarshal([]byte(def), a); err != nil {
			return nil, fmt.Errorf("decode agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, policy, status, records, result_node_id, error, tokens, cost, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.Policy, string(run.Status), nullRaw(run.Records),
		nullStr(run.ResultNodeID), nullStr(run.Error), run.Tokens, run.Cost,
		timeOrNow(run.StartedAt), nullTime(run.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if len(update.Records) > 0 {
		sets = append(sets, "records = ?")
		args = append(args, string(update.Records))
	}
	if update.ResultNodeID != "" {
		sets = append(sets, "result_node_id = ?")
		args = append(args, update.ResultNodeID)
	}
	if update.Error != "" {
		sets = append(sets, "error = ?")
		args = append(args, update.Error)
	}
	if update.Tokens > 0 {
		sets = append(sets, "tokens = ?")
		args = append(args, update.Tokens)
	}
	if update.Cost > 0 {
		sets = append(sets, "cost = ?")
		args = append(args, update.Cost)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

const runColumns = `id, workflow_id, policy, status, records, result_node_id, error, tokens, cost, started_at, completed_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storeNotFound("run", id)
	}
	return runs[0], nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var status string
		var records, resultNode, errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.Policy, &status, &records, &resultNode,
			&errMsg, &r.Tokens, &r.Cost, &r.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Status = schema.RunStatus(status)
		r.Records = rawOrNil(records)
		r.ResultNodeID = resultNode.String
		r.Error = errMsg.String
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM node_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO node_events (run_id, workflow_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.WorkflowID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, workflow_id, node_id, event_type, payload, timestamp, sequence
		 FROM node_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.WorkflowID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AgentGraphError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
