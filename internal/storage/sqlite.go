package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"codetwin/internal/extractor"
	"codetwin/internal/graph"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// sqlite caps host parameters per statement; IN lists are chunked below it.
const maxInParams = 500

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer at a time keeps batches serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS code_units (
			project_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			name TEXT,
			kind TEXT,
			language TEXT,
			file_path TEXT,
			parent_scope TEXT,
			content TEXT,
			start_line INTEGER,
			end_line INTEGER,
			fingerprint TEXT,
			imports JSON,
			summary TEXT,
			footprint TEXT,
			embedding BLOB,
			last_modified_at TEXT,
			author TEXT,
			risk_score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (project_id, identifier)
		);`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			project_id TEXT NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			PRIMARY KEY (project_id, source, target, edge_type)
		);`,
		`CREATE TABLE IF NOT EXISTS risk_alerts (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			risk_type TEXT NOT NULL,
			severity TEXT,
			description TEXT,
			affected_units JSON,
			created_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			repo_url TEXT,
			local_path TEXT,
			last_commit TEXT,
			updated_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_units_file ON code_units(project_id, file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(project_id, source, edge_type);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_project ON risk_alerts(project_id, risk_type);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- UnitStore ---

const unitColumns = `identifier, name, kind, language, file_path, parent_scope, content, start_line, end_line,
	fingerprint, imports, summary, footprint, embedding, last_modified_at, author, risk_score`

func (s *SQLiteStore) UnitFingerprints(ctx context.Context, project string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT identifier, fingerprint FROM code_units WHERE project_id = ?", project)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id string
		var fp sql.NullString
		if err := rows.Scan(&id, &fp); err != nil {
			return nil, err
		}
		out[id] = fp.String
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertUnits(ctx context.Context, project string, units []*extractor.CodeUnit) error {
	if len(units) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO code_units (project_id, identifier, name, kind, language, file_path, parent_scope, content,
			start_line, end_line, fingerprint, imports, summary, footprint, embedding, last_modified_at, author)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, identifier) DO UPDATE SET
			name=excluded.name,
			kind=excluded.kind,
			language=excluded.language,
			file_path=excluded.file_path,
			parent_scope=excluded.parent_scope,
			content=excluded.content,
			start_line=excluded.start_line,
			end_line=excluded.end_line,
			fingerprint=excluded.fingerprint,
			imports=excluded.imports,
			summary=excluded.summary,
			footprint=excluded.footprint,
			embedding=excluded.embedding,
			last_modified_at=excluded.last_modified_at,
			author=excluded.author
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range units {
		imports, err := json.Marshal(u.Imports)
		if err != nil {
			return fmt.Errorf("failed to encode imports of %s: %w", u.Identifier, err)
		}
		blob, err := encodeEmbedding(u.Embedding)
		if err != nil {
			return err
		}
		var modified sql.NullString
		if u.LastModifiedAt != nil {
			modified = sql.NullString{String: u.LastModifiedAt.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, project, u.Identifier, u.Name, string(u.Kind), u.Language, u.FilePath,
			u.ParentScope, u.Content, u.StartLine, u.EndLine, u.Fingerprint, imports, u.Summary, u.Footprint,
			blob, modified, u.Author); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", u.Identifier, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteUnits(ctx context.Context, project string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, chunk := range chunks(ids, maxInParams-1) {
		args := inArgs(project, chunk)
		marks := placeholders(len(chunk))
		// edges first so no edge outlives its source
		if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edges WHERE project_id = ? AND source IN ("+marks+")", args...); err != nil {
			return fmt.Errorf("failed to delete edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM code_units WHERE project_id = ? AND identifier IN ("+marks+")", args...); err != nil {
			return fmt.Errorf("failed to delete units: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListUnits(ctx context.Context, project string) ([]*extractor.CodeUnit, error) {
	return s.queryUnits(ctx, "SELECT "+unitColumns+" FROM code_units WHERE project_id = ? ORDER BY identifier", project)
}

func (s *SQLiteStore) ListFiles(ctx context.Context, project string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT file_path FROM code_units WHERE project_id = ? ORDER BY file_path", project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) FindUnitsByFile(ctx context.Context, project, filePath string) ([]*extractor.CodeUnit, error) {
	return s.queryUnits(ctx, "SELECT "+unitColumns+" FROM code_units WHERE project_id = ? AND file_path = ? ORDER BY start_line, identifier",
		project, extractor.NormalizePath(filePath))
}

func (s *SQLiteStore) FindUnitsByIdentifiers(ctx context.Context, project string, ids []string) ([]*extractor.CodeUnit, error) {
	var out []*extractor.CodeUnit
	for _, chunk := range chunks(ids, maxInParams-1) {
		units, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM code_units WHERE project_id = ? AND identifier IN ("+placeholders(len(chunk))+")",
			inArgs(project, chunk)...)
		if err != nil {
			return nil, err
		}
		out = append(out, units...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (s *SQLiteStore) queryUnits(ctx context.Context, query string, args ...any) ([]*extractor.CodeUnit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []*extractor.CodeUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanUnit(rows *sql.Rows) (*extractor.CodeUnit, error) {
	var u extractor.CodeUnit
	var kind string
	var parent, fp, summary, footprint, author, mod sql.NullString
	var imports, blob []byte
	if err := rows.Scan(&u.Identifier, &u.Name, &kind, &u.Language, &u.FilePath, &parent, &u.Content,
		&u.StartLine, &u.EndLine, &fp, &imports, &summary, &footprint, &blob, &mod, &author, &u.RiskScore); err != nil {
		return nil, err
	}
	u.Kind = extractor.UnitKind(kind)
	u.ParentScope = parent.String
	u.Fingerprint = fp.String
	u.Summary = summary.String
	u.Footprint = footprint.String
	u.Author = author.String
	if len(imports) > 0 {
		_ = json.Unmarshal(imports, &u.Imports)
	}
	u.Embedding = decodeEmbedding(blob)
	if mod.Valid {
		if t, err := time.Parse(time.RFC3339Nano, mod.String); err == nil {
			u.LastModifiedAt = &t
		}
	}
	return &u, nil
}

// --- EdgeStore ---

func (s *SQLiteStore) ReplaceEdges(ctx context.Context, project string, groups []EdgeGroup) error {
	if len(groups) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del, err := tx.PrepareContext(ctx, "DELETE FROM graph_edges WHERE project_id = ? AND source = ? AND edge_type = ?")
	if err != nil {
		return err
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_edges (project_id, source, target, edge_type) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, source, target, edge_type) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, g := range groups {
		if _, err := del.ExecContext(ctx, project, g.Source, string(g.Type)); err != nil {
			return fmt.Errorf("failed to clear %s edges of %s: %w", g.Type, g.Source, err)
		}
		for _, target := range g.Targets {
			if _, err := ins.ExecContext(ctx, project, g.Source, target, string(g.Type)); err != nil {
				return fmt.Errorf("failed to insert edge %s -> %s: %w", g.Source, target, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListEdges(ctx context.Context, project string) ([]graph.Edge, error) {
	return s.queryEdges(ctx, "SELECT source, target, edge_type FROM graph_edges WHERE project_id = ? ORDER BY source, edge_type, target", project)
}

func (s *SQLiteStore) ListEdgesFrom(ctx context.Context, project string, sources []string, kind extractor.EdgeType) ([]graph.Edge, error) {
	var out []graph.Edge
	for _, chunk := range chunks(sources, maxInParams-2) {
		args := append(inArgs(project, chunk), string(kind))
		edges, err := s.queryEdges(ctx, "SELECT source, target, edge_type FROM graph_edges WHERE project_id = ? AND source IN ("+
			placeholders(len(chunk))+") AND edge_type = ? ORDER BY source, target", args...)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

func (s *SQLiteStore) queryEdges(ctx context.Context, query string, args ...any) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var kind string
		if err := rows.Scan(&e.From, &e.To, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Kind = extractor.EdgeType(kind)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- SearchStore ---

// SearchUnits scores every unit of the project in memory: cosine similarity
// against the query vector plus the share of query terms found in the unit's
// name, path, summary and footprint. Units scoring zero are dropped.
func (s *SQLiteStore) SearchUnits(ctx context.Context, project string, q SearchQuery) ([]SearchHit, error) {
	units, err := s.ListUnits(ctx, project)
	if err != nil {
		return nil, err
	}
	terms := searchTerms(q.Text)

	var hits []SearchHit
	for _, u := range units {
		score := 0.0
		if len(q.Vector) > 0 && len(u.Embedding) > 0 {
			score += float64(cosineSimilarity(q.Vector, u.Embedding))
		}
		score += keywordScore(terms, u)
		if score <= 0 {
			continue
		}
		hits = append(hits, SearchHit{Unit: u, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Unit.Identifier < hits[j].Unit.Identifier
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func searchTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

func keywordScore(terms []string, u *extractor.CodeUnit) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(strings.Join([]string{u.Name, u.FilePath, u.Summary, u.Footprint}, " "))
	found := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

// --- RiskStore ---

func (s *SQLiteStore) ReplaceRiskAlerts(ctx context.Context, project, riskType string, alerts []RiskAlert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM risk_alerts WHERE project_id = ? AND risk_type = ?", project, riskType); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO risk_alerts (id, project_id, risk_type, severity, description, affected_units, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range alerts {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := a.CreatedAt
		if created.IsZero() {
			created = now
		}
		affected, err := json.Marshal(a.AffectedUnits)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, project, riskType, a.Severity, a.Description, affected,
			created.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpdateRiskScores(ctx context.Context, project string, scores map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE code_units SET risk_score = 0 WHERE project_id = ?", project); err != nil {
		return fmt.Errorf("failed to reset risk scores: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "UPDATE code_units SET risk_score = ? WHERE project_id = ? AND identifier = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, score := range scores {
		if score == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, score, project, id); err != nil {
			return fmt.Errorf("failed to set risk score of %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListRiskAlerts(ctx context.Context, project string) ([]RiskAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, risk_type, severity, description, affected_units, created_at
		FROM risk_alerts WHERE project_id = ? ORDER BY created_at DESC, rowid DESC
	`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []RiskAlert
	for rows.Next() {
		var a RiskAlert
		var affected []byte
		var created string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.RiskType, &a.Severity, &a.Description, &affected, &created); err != nil {
			return nil, err
		}
		if len(affected) > 0 {
			_ = json.Unmarshal(affected, &a.AffectedUnits)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// --- ProjectStore ---

func (s *SQLiteStore) SaveProject(ctx context.Context, p Project) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, repo_url, local_path, last_commit, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_url=excluded.repo_url,
			local_path=excluded.local_path,
			last_commit=excluded.last_commit,
			updated_at=excluded.updated_at
	`, p.ID, p.RepoURL, p.LocalPath, p.LastCommit, p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ErrProjectNotFound is returned by GetProject for unknown ids.
var ErrProjectNotFound = errors.New("project not found")

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, repo_url, local_path, last_commit, updated_at FROM projects WHERE id = ?", id)

	var p Project
	var repoURL, localPath, commit, updated sql.NullString
	if err := row.Scan(&p.ID, &repoURL, &localPath, &commit, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	p.RepoURL = repoURL.String
	p.LocalPath = localPath.String
	p.LastCommit = commit.String
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated.String)
	return &p, nil
}

// --- helpers ---

func encodeEmbedding(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) < 4 {
		return nil
	}
	v := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob[:len(v)*4]), binary.LittleEndian, &v); err != nil {
		return nil
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func inArgs(project string, ids []string) []any {
	args := make([]any, 0, len(ids)+1)
	args = append(args, project)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}
