package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harborview-partners/enrich-cli/internal/db"
	"github.com/harborview-partners/enrich-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const entityColumns = `id, type, natural_key, name, website, city, state, fields, enriched_at, enrichment_source, enriched_data, resolution_status, candidates, created_at, updated_at`

const runColumns = `id, scope, entity_type, entity_key, status, outcome, error, summary, started_at, finished_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_entity":            `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`,
	"get_entity_by_key":     `SELECT ` + entityColumns + ` FROM entities WHERE type = $1 AND natural_key = $2`,
	"apply_enrichment":      `UPDATE entities SET fields = fields || $1, enriched_at = $2, enrichment_source = $3, enriched_data = $4, updated_at = $2 WHERE id = $5`,
	"set_resolution_status": `UPDATE entities SET resolution_status = $1, updated_at = $2 WHERE id = $3`,
	"insert_run":            `INSERT INTO pipeline_runs (id, scope, entity_type, entity_key, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"finish_run":            `UPDATE pipeline_runs SET status = $1, outcome = $2, error = $3, summary = $4, finished_at = $5 WHERE id = $6 AND finished_at IS NULL`,
	"get_run":               `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., bulk import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type              TEXT NOT NULL,
	natural_key       TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	fields            JSONB NOT NULL DEFAULT '{}',
	enriched_at       TIMESTAMPTZ,
	enrichment_source TEXT NOT NULL DEFAULT '',
	enriched_data     JSONB,
	resolution_status TEXT NOT NULL DEFAULT 'unresolved',
	candidates        JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (type, natural_key)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_resolution_status ON entities(resolution_status);
CREATE INDEX IF NOT EXISTS idx_entities_enriched_at ON entities(enriched_at);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_key  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	outcome     TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	summary     JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_scope ON pipeline_runs(scope);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *model.Entity) (*model.Entity, bool, error) {
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
			return nil, false, eris.Wrap(err, "postgres: marshal fields")
		}

		_, err = s.pool.Exec(ctx,
			`INSERT INTO entities (id, type, natural_key, name, website, city, state, fields, resolution_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			ent.ID, string(ent.Type), ent.NaturalKey, ent.Name, ent.Website, ent.City, ent.State,
			fieldsJSON, string(ent.ResolutionStatus), now, now,
		)
		if err != nil {
			return nil, false, persistErr(err, "postgres: insert entity")
		}
		return &ent, true, nil
	}

	merged := mergeEntity(existing, e)
	if !merged {
		return existing, false, nil
	}

	fieldsJSON, err := json.Marshal(existing.Fields)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal fields")
	}

	existing.UpdatedAt = now
	_, err = s.pool.Exec(ctx,
		`UPDATE entities SET name = $1, website = $2, city = $3, state = $4, fields = $5, updated_at = $6 WHERE id = $7`,
		existing.Name, existing.Website, existing.City, existing.State, fieldsJSON, now, existing.ID,
	)
	if err != nil {
		return nil, false, persistErr(err, "postgres: update entity")
	}
	return existing, true, nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}
	return e, nil
}

func (s *PostgresStore) GetEntityByKey(ctx context.Context, typ model.EntityType, key string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE type = $1 AND natural_key = $2`,
		string(typ), key,
	)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get entity by key %s/%s", typ, key)
	}
	return e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.ResolutionStatus != "" {
		query += fmt.Sprintf(` AND resolution_status = $%d`, argIdx)
		args = append(args, string(filter.ResolutionStatus))
		argIdx++
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
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		entities = append(entities, *e)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) ApplyEnrichment(ctx context.Context, id string, updates map[string]any, source string, raw json.RawMessage) error {
	updatesJSON, err := json.Marshal(updates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal updates")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET fields = fields || $1, enriched_at = $2, enrichment_source = $3, enriched_data = $4, updated_at = $2 WHERE id = $5`,
		updatesJSON, now, source, []byte(raw), id,
	)
	if err != nil {
		return persistErr(err, fmt.Sprintf("postgres: apply enrichment %s", id))
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetCandidates(ctx context.Context, id string, candidates []model.CandidateMatch) error {
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET candidates = $1, resolution_status = $2, updated_at = $3 WHERE id = $4`,
		candidatesJSON, string(model.ResolutionAmbiguous), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set candidates %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ClearCandidates(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET candidates = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: clear candidates %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetResolutionStatus(ctx context.Context, id string, status model.ResolutionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET resolution_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set resolution status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) InsertRun(ctx context.Context, scope model.RunScope, entityType model.EntityType, entityKey string) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:         uuid.New().String(),
		Scope:      scope,
		EntityType: entityType,
		EntityKey:  entityKey,
		Status:     model.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, scope, entity_type, entity_key, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Scope), string(run.EntityType), run.EntityKey, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, outcome model.ItemOutcome, errMsg string, summary json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, outcome = $2, error = $3, summary = $4, finished_at = $5 WHERE id = $6 AND finished_at IS NULL`,
		string(status), string(outcome), errMsg, []byte(summary), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found or already finished: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Scope != "" {
		query += fmt.Sprintf(` AND scope = $%d`, argIdx)
		args = append(args, string(filter.Scope))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.EntityType != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argIdx)
		args = append(args, string(filter.EntityType))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var fieldsJSON []byte
	var enrichedData, candidatesJSON *[]byte

	err := row.Scan(&e.ID, &e.Type, &e.NaturalKey, &e.Name, &e.Website, &e.City, &e.State,
		&fieldsJSON, &e.EnrichedAt, &e.EnrichmentSource, &enrichedData,
		&e.ResolutionStatus, &candidatesJSON, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Fields = map[string]any{}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal fields")
		}
	}
	if enrichedData != nil {
		e.EnrichedData = json.RawMessage(*enrichedData)
	}
	if candidatesJSON != nil && len(*candidatesJSON) > 0 {
		if err := json.Unmarshal(*candidatesJSON, &e.Candidates); err != nil {
			return nil, eris.Wrap(err, "unmarshal candidates")
		}
	}
	return &e, nil
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var summary *[]byte

	err := row.Scan(&r.ID, &r.Scope, &r.EntityType, &r.EntityKey, &r.Status,
		&r.Outcome, &r.Error, &summary, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		r.Summary = json.RawMessage(*summary)
	}
	return &r, nil
}

// mergeEntity folds the incoming entity's descriptive attributes into the
// stored one, reporting whether anything changed. Non-empty incoming scalars
// win; incoming field keys overwrite. Enrichment metadata and resolution
// state are never touched here.
func mergeEntity(existing, incoming *model.Entity) bool {
	changed := false

	if incoming.Name != "" && incoming.Name != existing.Name {
		existing.Name = incoming.Name
		changed = true
	}
	if incoming.Website != "" && incoming.Website != existing.Website {
		existing.Website = incoming.Website
		changed = true
	}
	if incoming.City != "" && incoming.City != existing.City {
		existing.City = incoming.City
		changed = true
	}
	if incoming.State != "" && incoming.State != existing.State {
		existing.State = incoming.State
		changed = true
	}

	if len(incoming.Fields) > 0 {
		if existing.Fields == nil {
			existing.Fields = map[string]any{}
		}
		before, _ := json.Marshal(existing.Fields)
		for k, v := range incoming.Fields {
			existing.Fields[k] = v
		}
		after, _ := json.Marshal(existing.Fields)
		if !bytes.Equal(before, after) {
			changed = true
		}
	}
	return changed
}

// persistErr converts constraint violations into PersistFailed with a
// remediation hint; anything else is wrapped as-is.
func persistErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &PersistFailed{Hint: constraintHint(pgErr.Code), Err: err}
	}
	return eris.Wrap(err, op)
}

func constraintHint(code string) string {
	switch code {
	case "23503": // foreign_key_violation
		return "this record is referenced by another record; unlink it before changing or deleting"
	case "23505": // unique_violation
		return "a record with this key already exists; update the existing record instead of creating a new one"
	default:
		return "the write was rejected by a data integrity constraint; check the record for conflicting values"
	}
}
