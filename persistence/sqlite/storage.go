package sqlite

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/util"
)

var _ persistence.Storage = new(Storage)

// Storage implements persistence.Storage on a single sqlite file.
// Instances are stored as JSON documents alongside a few indexed
// columns; the events table's autoincrement primary key supplies the
// global sequence.
type Storage struct {
	db       *sql.DB
	wfCodec  util.EncoderDecoder[model.WorkflowInstance]
	evCodec  util.EncoderDecoder[model.WorkflowEvent]
	delCodec util.EncoderDecoder[model.DelegationRule]
	defCodec util.EncoderDecoder[model.WorkflowDefinition]
}

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_request ON workflows(request_id);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

CREATE TABLE IF NOT EXISTS events (
	global_seq INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_workflow ON events(workflow_id, seq);

CREATE TABLE IF NOT EXISTS delegations (
	id TEXT PRIMARY KEY,
	delegator TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delegations_delegator ON delegations(delegator);

CREATE TABLE IF NOT EXISTS deadlines (
	workflow_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	generation INTEGER NOT NULL,
	fire_at INTEGER NOT NULL,
	PRIMARY KEY (workflow_id, step_id)
);
CREATE INDEX IF NOT EXISTS idx_deadlines_fire_at ON deadlines(fire_at);

CREATE TABLE IF NOT EXISTS cursors (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS definitions (
	name TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`

func NewStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &Storage{
		db:       db,
		wfCodec:  util.NewJsonEncoderDecoder[model.WorkflowInstance](),
		evCodec:  util.NewJsonEncoderDecoder[model.WorkflowEvent](),
		delCodec: util.NewJsonEncoderDecoder[model.DelegationRule](),
		defCodec: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
	}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveWorkflow(wf *model.WorkflowInstance, events []model.WorkflowEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	defer tx.Rollback()
	data, err := s.wfCodec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = tx.Exec(`INSERT INTO workflows(id, request_id, status, created_at, data) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data`,
		wf.Id, wf.RequestId, string(wf.Status), wf.CreatedAt.UnixMilli(), string(data))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	for i := range events {
		evData, err := s.evCodec.Encode(events[i])
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		res, err := tx.Exec(`INSERT INTO events(workflow_id, seq, data) VALUES(?,?,?)`,
			events[i].WorkflowId, events[i].Sequence, string(evData))
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		gseq, err := res.LastInsertId()
		if err == nil {
			events[i].GlobalSeq = gseq
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetWorkflow(id string) (*model.WorkflowInstance, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM workflows WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewValidationError(api.REASON_WORKFLOW_NOT_FOUND, "workflow %s not found", id)
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.wfCodec.Decode([]byte(data))
}

func (s *Storage) listWorkflows(query string, args ...any) ([]*model.WorkflowInstance, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var out []*model.WorkflowInstance
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		wf, err := s.wfCodec.Decode([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *Storage) ListByRequest(requestId string) ([]*model.WorkflowInstance, error) {
	return s.listWorkflows(`SELECT data FROM workflows WHERE request_id = ? ORDER BY created_at`, requestId)
}

func (s *Storage) ListOpenWorkflows() ([]*model.WorkflowInstance, error) {
	return s.listWorkflows(`SELECT data FROM workflows WHERE status = ? ORDER BY created_at`, string(model.WORKFLOW_PENDING))
}

func (s *Storage) ListWorkflows() ([]*model.WorkflowInstance, error) {
	return s.listWorkflows(`SELECT data FROM workflows ORDER BY created_at`)
}

func (s *Storage) listEvents(query string, args ...any) ([]model.WorkflowEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var out []model.WorkflowEvent
	for rows.Next() {
		var gseq int64
		var data string
		if err := rows.Scan(&gseq, &data); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		ev, err := s.evCodec.Decode([]byte(data))
		if err != nil {
			return nil, err
		}
		ev.GlobalSeq = gseq
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (s *Storage) ListEvents(workflowId string, fromSeq int64) ([]model.WorkflowEvent, error) {
	return s.listEvents(`SELECT global_seq, data FROM events WHERE workflow_id = ? AND seq >= ? ORDER BY seq`, workflowId, fromSeq)
}

func (s *Storage) ListAllEvents(fromGlobalSeq int64, limit int) ([]model.WorkflowEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.listEvents(`SELECT global_seq, data FROM events WHERE global_seq > ? ORDER BY global_seq LIMIT ?`, fromGlobalSeq, limit)
}

func (s *Storage) SaveDelegation(rule model.DelegationRule) error {
	data, err := s.delCodec.Encode(rule)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO delegations(id, delegator, data) VALUES(?,?,?)`,
		rule.Id, rule.Delegator, string(data))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListDelegations(userId string) ([]model.DelegationRule, error) {
	rows, err := s.db.Query(`SELECT data FROM delegations WHERE delegator = ?`, userId)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var out []model.DelegationRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		rule, err := s.delCodec.Decode([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (s *Storage) AddDeadline(entry persistence.DeadlineEntry) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO deadlines(workflow_id, step_id, generation, fire_at) VALUES(?,?,?,?)`,
		entry.WorkflowId, entry.StepId, entry.Generation, entry.FireAt.UnixMilli())
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) RemoveDeadline(workflowId string, stepId string) error {
	_, err := s.db.Exec(`DELETE FROM deadlines WHERE workflow_id = ? AND step_id = ?`, workflowId, stepId)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) DueDeadlines(now time.Time, batch int) ([]persistence.DeadlineEntry, error) {
	if batch <= 0 {
		batch = -1
	}
	rows, err := s.db.Query(`SELECT workflow_id, step_id, generation, fire_at FROM deadlines WHERE fire_at <= ? ORDER BY fire_at LIMIT ?`,
		now.UnixMilli(), batch)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var out []persistence.DeadlineEntry
	for rows.Next() {
		var entry persistence.DeadlineEntry
		var fireAt int64
		if err := rows.Scan(&entry.WorkflowId, &entry.StepId, &entry.Generation, &fireAt); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		entry.FireAt = time.UnixMilli(fireAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Storage) GetCursor(name string) (int64, error) {
	var value int64
	err := s.db.QueryRow(`SELECT value FROM cursors WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return value, nil
}

func (s *Storage) SaveCursor(name string, value int64) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cursors(name, value) VALUES(?,?)`, name, value)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) SaveDefinition(def model.WorkflowDefinition) error {
	data, err := s.defCodec.Encode(def)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO definitions(name, data) VALUES(?,?)`, def.Name, string(data))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetDefinition(name string) (*model.WorkflowDefinition, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM definitions WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewValidationError(api.REASON_DEFINITION_NOT_FOUND, "definition %s not found", name)
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.defCodec.Decode([]byte(data))
}

func (s *Storage) DeleteDefinition(name string) error {
	_, err := s.db.Exec(`DELETE FROM definitions WHERE name = ?`, name)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
