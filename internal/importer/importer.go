// Package importer loads lead and buyer lists into the entity store. Lists
// arrive as CSV or XLSX exports, either on local disk or on an FTP drop.
// Columns are mapped by header name and rows are keyed by the entity type's
// natural key, so re-importing the same file is a no-op.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/harborview-partners/enrich-cli/internal/acquire"
	"github.com/harborview-partners/enrich-cli/internal/db"
	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/schema"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

// Config configures parsing and FTP access.
type Config struct {
	// Charset names the CSV encoding when a list is not UTF-8, e.g.
	// "windows-1252". Resolved through the WHATWG encoding index.
	Charset     string
	FTPUser     string
	FTPPassword string
	FTPTimeout  time.Duration
}

// Importer parses lead lists and upserts the rows as entities.
type Importer struct {
	store    store.Store
	registry *schema.Registry
	cfg      Config
}

// New creates an Importer. FTP access defaults to anonymous login.
func New(st store.Store, reg *schema.Registry, cfg Config) *Importer {
	if cfg.FTPTimeout == 0 {
		cfg.FTPTimeout = 30 * time.Second
	}
	if cfg.FTPUser == "" {
		cfg.FTPUser = "anonymous"
		cfg.FTPPassword = "anonymous@"
	}
	return &Importer{store: st, registry: reg, cfg: cfg}
}

// Result summarizes one import.
type Result struct {
	Total     int `json:"total"`     // data rows in the file
	Upserted  int `json:"upserted"`  // rows that created or changed an entity
	Unchanged int `json:"unchanged"` // rows already present with identical values
	Skipped   int `json:"skipped"`   // rows with no derivable natural key
}

// ImportFile parses a local CSV or XLSX file and upserts each row as an
// entity of the given type. Existing entities are merged, never clobbered:
// blank cells do not erase stored values and enrichment state is untouched.
func (i *Importer) ImportFile(ctx context.Context, path string, entityType model.EntityType) (*Result, error) {
	desc := i.registry.Get(entityType)
	if desc == nil {
		return nil, eris.Errorf("importer: unknown entity type %q", entityType)
	}

	entities, res, err := i.parseFile(ctx, path, desc)
	if err != nil {
		return nil, err
	}

	for _, e := range entities {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "importer: context cancelled")
		}
		_, changed, err := i.store.UpsertEntity(ctx, e)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: upsert %s %q", e.Type, e.NaturalKey)
		}
		if changed {
			res.Upserted++
		} else {
			res.Unchanged++
		}
	}

	zap.L().Info("import complete",
		zap.String("file", path),
		zap.String("type", string(entityType)),
		zap.Int("total", res.Total),
		zap.Int("upserted", res.Upserted),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// ImportFTP downloads a file from an FTP drop to a temp file and imports it.
func (i *Importer) ImportFTP(ctx context.Context, ftpURL string, entityType model.EntityType) (*Result, error) {
	host, remotePath, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("importer: ftp download", zap.String("host", host), zap.String("path", remotePath))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(i.cfg.FTPTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "importer: ftp dial")
	}
	defer conn.Quit()

	if err := conn.Login(i.cfg.FTPUser, i.cfg.FTPPassword); err != nil {
		return nil, eris.Wrap(err, "importer: ftp login")
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return nil, eris.Wrap(err, "importer: ftp retrieve")
	}

	// XLSX parsing needs a seekable file, so spool to disk either way.
	tmp, err := os.CreateTemp("", "import-*"+filepath.Ext(remotePath))
	if err != nil {
		resp.Close()
		return nil, eris.Wrap(err, "importer: create temp file")
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, resp)
	resp.Close()
	closeErr := tmp.Close()
	if copyErr != nil {
		return nil, eris.Wrap(copyErr, "importer: download to temp file")
	}
	if closeErr != nil {
		return nil, eris.Wrap(closeErr, "importer: close temp file")
	}

	return i.ImportFile(ctx, tmp.Name(), entityType)
}

// BulkLoad streams a file into postgres with COPY and a single ON CONFLICT
// upsert. Intended for large initial loads; unlike ImportFile it overwrites
// the descriptive columns wholesale, so do not use it on lists that lag the
// database.
func (i *Importer) BulkLoad(ctx context.Context, path string, entityType model.EntityType) (int64, error) {
	pg, ok := i.store.(*store.PostgresStore)
	if !ok {
		return 0, eris.New("importer: bulk load requires the postgres store")
	}
	desc := i.registry.Get(entityType)
	if desc == nil {
		return 0, eris.Errorf("importer: unknown entity type %q", entityType)
	}

	entities, _, err := i.parseFile(ctx, path, desc)
	if err != nil {
		return 0, err
	}
	if len(entities) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entities))
	for _, e := range entities {
		fields := e.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		rows = append(rows, []any{
			uuid.NewString(), string(e.Type), e.NaturalKey,
			e.Name, e.Website, e.City, e.State, fields, now, now,
		})
	}

	cfg := db.UpsertConfig{
		Table:        "entities",
		Columns:      []string{"id", "type", "natural_key", "name", "website", "city", "state", "fields", "created_at", "updated_at"},
		ConflictKeys: []string{"type", "natural_key"},
		UpdateCols:   []string{"name", "website", "city", "state", "fields", "updated_at"},
	}
	n, err := db.BulkUpsert(ctx, pg.Pool(), cfg, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "importer: bulk load %s", path)
	}

	zap.L().Info("bulk load complete",
		zap.String("file", path),
		zap.String("type", string(entityType)),
		zap.Int64("rows", n),
	)
	return n, nil
}

// parseFile dispatches on extension and returns the deduplicated entities.
// Later rows win when a natural key repeats within one file.
func (i *Importer) parseFile(ctx context.Context, path string, desc *schema.TypeDescriptor) ([]*model.Entity, *Result, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = i.readCSV(ctx, path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, nil, eris.Errorf("importer: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, eris.Errorf("importer: %s has no header row", path)
	}

	cols := mapColumns(rows[0], desc)

	res := &Result{}
	var order []string
	byKey := make(map[string]*model.Entity)
	for _, record := range rows[1:] {
		if isBlank(record) {
			continue
		}
		res.Total++

		e := rowEntity(record, cols, desc)
		if e == nil {
			res.Skipped++
			continue
		}
		if _, seen := byKey[e.NaturalKey]; !seen {
			order = append(order, e.NaturalKey)
		}
		byKey[e.NaturalKey] = e
	}

	entities := make([]*model.Entity, 0, len(order))
	for _, k := range order {
		entities = append(entities, byKey[k])
	}
	return entities, res, nil
}

// readCSV reads all rows, transcoding from the configured charset first.
func (i *Importer) readCSV(ctx context.Context, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s", path)
	}
	defer f.Close()

	r, err := i.decodeReader(f)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "importer: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "importer: read %s", path)
		}
		rows = append(rows, record)
	}
}

func (i *Importer) decodeReader(r io.Reader) (io.Reader, error) {
	cs := strings.ToLower(strings.TrimSpace(i.cfg.Charset))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: unsupported charset %q", i.cfg.Charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// readXLSX returns the first sheet's rows as strings.
func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("importer: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// columnMap records which record index feeds each entity attribute, plus
// any headers that match the type's enrichable field schema.
type columnMap struct {
	name, website, email, city, state int
	fields                            map[string]int // schema field name -> column index
}

var headerAliases = map[string]string{
	"name":            "name",
	"company":         "name",
	"company name":    "name",
	"organization":    "name",
	"contact name":    "name",
	"full name":       "name",
	"website":         "website",
	"web site":        "website",
	"company website": "website",
	"url":             "website",
	"domain":          "website",
	"homepage":        "website",
	"email":           "email",
	"email address":   "email",
	"e mail":          "email",
	"city":            "city",
	"state":           "state",
	"province":        "state",
}

func mapColumns(header []string, desc *schema.TypeDescriptor) columnMap {
	cols := columnMap{name: -1, website: -1, email: -1, city: -1, state: -1, fields: make(map[string]int)}
	for idx, raw := range header {
		h := normalizeHeader(raw)
		switch headerAliases[h] {
		case "name":
			cols.name = idx
		case "website":
			cols.website = idx
		case "email":
			cols.email = idx
		case "city":
			cols.city = idx
		case "state":
			cols.state = idx
		default:
			// Headers matching the enrichable schema land in fields.
			fieldName := strings.ReplaceAll(h, " ", "_")
			if desc.Field(fieldName) != nil {
				cols.fields[fieldName] = idx
			}
		}
	}
	return cols
}

func normalizeHeader(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// rowEntity builds an entity from one record, or nil when no natural key
// can be derived.
func rowEntity(record []string, cols columnMap, desc *schema.TypeDescriptor) *model.Entity {
	cell := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	e := &model.Entity{
		Type:    desc.Key,
		Name:    cell(cols.name),
		Website: cell(cols.website),
		City:    cell(cols.city),
		State:   cell(cols.state),
	}

	switch desc.KeyField {
	case "email":
		e.NaturalKey = strings.ToLower(cell(cols.email))
	case "domain":
		e.NaturalKey = acquire.Domain(e.Website)
	default:
		if idx, ok := cols.fields[desc.KeyField]; ok {
			e.NaturalKey = strings.ToLower(cell(idx))
		}
	}
	if e.NaturalKey == "" {
		return nil
	}

	for fieldName, idx := range cols.fields {
		if v := cell(idx); v != "" {
			if e.Fields == nil {
				e.Fields = make(map[string]any)
			}
			e.Fields[fieldName] = v
		}
	}
	return e
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "importer: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("importer: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	if u.Path == "" {
		return "", "", eris.New("importer: empty path in ftp url")
	}
	return host, u.Path, nil
}
