package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harborview-partners/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	natural_key       TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	fields            TEXT NOT NULL DEFAULT '{}',
	enriched_at       DATETIME,
	enrichment_source TEXT NOT NULL DEFAULT '',
	enriched_data     TEXT,
	resolution_status TEXT NOT NULL DEFAULT 'unresolved',
	candidates        TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (type, natural_key)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_resolution_status ON entities(resolution_status);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_key  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	outcome     TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	summary     TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *model.Entity) (*model.Entity, bool, error) {
	existing, err := s.GetEntityByKey(ctx, e.Type, e.NaturalKey)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()

	if existing == nil {
		ent := *e
		if ent.ID == "" {
			ent.ID = uuid.New().String()
		}
		if ent.Fields == nil {
			ent.Fields = map[string]any{}
		}
		if ent.ResolutionStatus == "" {
			ent.ResolutionStatus = model.ResolutionUnresolved
		}
		ent.CreatedAt = now
		ent.UpdatedAt = now

		fieldsJSON, err := json.Marshal(ent.Fields)
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: marshal fields")
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO entities (id, type, natural_key, name, website, city, state, fields, resolution_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ent.ID, string(ent.Type), ent.NaturalKey, ent.Name, ent.Website, ent.City, ent.State,
			string(fieldsJSON), string(ent.ResolutionStatus), now, now,
		)
		if err != nil {
			return nil, false, sqlitePersistErr(err, "sqlite: insert entity")
		}
		return &ent, true, nil
	}

	merged := mergeEntity(existing, e)
	if !merged {
		return existing, false, nil
	}

	fieldsJSON, err := json.Marshal(existing.Fields)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: marshal fields")
	}

	existing.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE entities SET name = ?, website = ?, city = ?, state = ?, fields = ?, updated_at = ? WHERE id = ?`,
		existing.Name, existing.Website, existing.City, existing.State, string(fieldsJSON), now, existing.ID,
	)
	if err != nil {
		return nil, false, sqlitePersistErr(err, "sqlite: update entity")
	}
	return existing, true, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := sqliteScanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) GetEntityByKey(ctx context.Context, typ model.EntityType, key string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE type = ? AND natural_key = ?`,
		string(typ), key,
	)
	e, err := sqliteScanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity by key %s/%s", typ, key)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.ResolutionStatus != "" {
		query += ` AND resolution_status = ?`
		args = append(args, string(filter.ResolutionStatus))
	}
	if filter.Enriched != nil {
		if *filter.Enriched {
			query += ` AND enriched_at IS NOT NULL`
		} else {
			query += ` AND enriched_at IS NULL`
		}
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := sqliteScanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		entities = append(entities, *e)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) ApplyEnrichment(ctx context.Context, id string, updates map[string]any, source string, raw json.RawMessage) error {
	updatesJSON, err := json.Marshal(updates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal updates")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET fields = json_patch(fields, ?), enriched_at = ?, enrichment_source = ?, enriched_data = ?, updated_at = ? WHERE id = ?`,
		string(updatesJSON), now, source, string(raw), now, id,
	)
	if err != nil {
		return sqlitePersistErr(err, "sqlite: apply enrichment")
	}
	return checkRowsAffected(res, "entity", id)
}

func (s *SQLiteStore) SetCandidates(ctx context.Context, id string, candidates []model.CandidateMatch) error {
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET candidates = ?, resolution_status = ?, updated_at = ? WHERE id = ?`,
		string(candidatesJSON), string(model.ResolutionAmbiguous), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set candidates %s", id)
	}
	return checkRowsAffected(res, "entity", id)
}

func (s *SQLiteStore) ClearCandidates(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET candidates = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: clear candidates %s", id)
	}
	return checkRowsAffected(res, "entity", id)
}

func (s *SQLiteStore) SetResolutionStatus(ctx context.Context, id string, status model.ResolutionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET resolution_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set resolution status %s", id)
	}
	return checkRowsAffected(res, "entity", id)
}

func (s *SQLiteStore) InsertRun(ctx context.Context, scope model.RunScope, entityType model.EntityType, entityKey string) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:         uuid.New().String(),
		Scope:      scope,
		EntityType: entityType,
		EntityKey:  entityKey,
		Status:     model.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, scope, entity_type, entity_key, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Scope), string(run.EntityType), run.EntityKey, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, outcome model.ItemOutcome, errMsg string, summary json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, outcome = ?, error = ?, summary = ?, finished_at = ? WHERE id = ? AND finished_at IS NULL`,
		string(status), string(outcome), errMsg, string(summary), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found or already finished: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, runID)
	r, err := sqliteScanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.Scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(filter.Scope))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := sqliteScanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func sqliteScanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var fieldsJSON string
	var enrichedAt sql.NullTime
	var enrichedData, candidatesJSON sql.NullString

	err := row.Scan(&e.ID, &e.Type, &e.NaturalKey, &e.Name, &e.Website, &e.City, &e.State,
		&fieldsJSON, &enrichedAt, &e.EnrichmentSource, &enrichedData,
		&e.ResolutionStatus, &candidatesJSON, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Fields = map[string]any{}
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal fields")
		}
	}
	if enrichedAt.Valid {
		t := enrichedAt.Time.UTC()
		e.EnrichedAt = &t
	}
	if enrichedData.Valid && enrichedData.String != "" {
		e.EnrichedData = json.RawMessage(enrichedData.String)
	}
	if candidatesJSON.Valid && candidatesJSON.String != "" {
		if err := json.Unmarshal([]byte(candidatesJSON.String), &e.Candidates); err != nil {
			return nil, eris.Wrap(err, "unmarshal candidates")
		}
	}
	return &e, nil
}

func sqliteScanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var summary sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Scope, &r.EntityType, &r.EntityKey, &r.Status,
		&r.Outcome, &r.Error, &summary, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if summary.Valid && summary.String != "" {
		r.Summary = json.RawMessage(summary.String)
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

func sqlitePersistErr(err error, op string) error {
	if strings.Contains(err.Error(), "constraint") {
		return &PersistFailed{
			Hint: "the write was rejected by a data integrity constraint; check the record for conflicting values",
			Err:  err,
		}
	}
	return eris.Wrap(err, op)
}
