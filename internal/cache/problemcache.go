package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/tuis-oj/judgenode/internal/judge"
	"github.com/tuis-oj/judgenode/internal/langprovider"
)

// ProblemInfo is what the dispatcher knows about a problem: enough to build
// a JudgeMode and, when non-standard, compile its jury program.
type ProblemInfo struct {
	ID            string
	JudgeMode     string // "standard", "special", or "interactive"
	TimeLimitMS   uint64
	MemoryLimitKB uint64
	JurySource    string
	JuryLanguage  string
	JuryDialect   string
	JuryVersion   string
	ArchiveID     string
}

// ProblemRecord is one cached row: problem metadata plus, for non-standard
// modes, the path to the already-compiled jury binary.
type ProblemRecord struct {
	ID            string
	JudgeMode     string
	TimeLimitMS   uint64
	MemoryLimitKB uint64
	JuryLanguage  string
	JuryDialect   string
	JuryVersion   string
	JuryExecPath  *string
	ArchiveID     string
	Timestamp     uint64
}

type dispatcherClient interface {
	GetProblem(ctx context.Context, id string) (ProblemInfo, error)
	GetProblemTimestamp(ctx context.Context, id string) (uint64, error)
}

type compiler interface {
	Compile(task judge.CompilationTask) (judge.CompilationResult, error)
}

// ProblemCache stores problem metadata (and, where applicable, a compiled
// jury binary path) in a local SQLite database, refreshing an entry only
// when the dispatcher reports a newer timestamp than the one cached.
type ProblemCache struct {
	db      *sql.DB
	dbMu    sync.Mutex
	locks   *keyLock
	juryDir string
	disp    dispatcherClient
	comp    compiler
}

// NewProblemCache opens (creating if needed) the SQLite database at dbPath
// and ensures its schema exists. juryDir is where compiled jury binaries are
// placed.
func NewProblemCache(dbPath, juryDir string, disp dispatcherClient, comp compiler) (*ProblemCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open problem db: %w", err)
	}
	// A single connection plus an explicit mutex avoids SQLITE_BUSY from
	// modernc.org/sqlite's lack of built-in connection-pool serialization.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS problems (
		id TEXT PRIMARY KEY,
		judge_mode TEXT NOT NULL,
		time_limit INTEGER NOT NULL,
		memory_limit INTEGER NOT NULL,
		jury_lang TEXT,
		jury_dialect TEXT,
		jury_version TEXT,
		jury_exec_path TEXT,
		archive_id TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	if err := os.MkdirAll(juryDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create jury dir: %w", err)
	}

	return &ProblemCache{
		db:      db,
		locks:   newKeyLock(),
		juryDir: juryDir,
		disp:    disp,
		comp:    comp,
	}, nil
}

// Close closes the underlying database handle.
func (c *ProblemCache) Close() error {
	return c.db.Close()
}

// Get returns the cached record for id, refreshing it from the dispatcher
// (and recompiling the jury program, for non-standard modes) if the
// dispatcher's timestamp is newer than what is cached.
func (c *ProblemCache) Get(ctx context.Context, id string) (ProblemRecord, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	remoteTS, err := c.disp.GetProblemTimestamp(ctx, id)
	if err != nil {
		return ProblemRecord{}, fmt.Errorf("cache: get problem timestamp: %w", err)
	}

	cached, found, err := c.readRow(id)
	if err != nil {
		return ProblemRecord{}, err
	}
	if found && cached.Timestamp >= remoteTS {
		return cached, nil
	}

	info, err := c.disp.GetProblem(ctx, id)
	if err != nil {
		return ProblemRecord{}, fmt.Errorf("cache: get problem: %w", err)
	}

	record := ProblemRecord{
		ID:            info.ID,
		JudgeMode:     info.JudgeMode,
		TimeLimitMS:   info.TimeLimitMS,
		MemoryLimitKB: info.MemoryLimitKB,
		JuryLanguage:  info.JuryLanguage,
		JuryDialect:   info.JuryDialect,
		JuryVersion:   info.JuryVersion,
		ArchiveID:     info.ArchiveID,
		Timestamp:     remoteTS,
	}

	if info.JudgeMode != "standard" {
		execPath, err := c.compileJury(id, info)
		if err != nil {
			// A jury compile failure leaves JuryExecPath nil; callers must
			// observe this and short-circuit to CheckerFailed/InteractorFailed.
			record.JuryExecPath = nil
		} else {
			record.JuryExecPath = &execPath
		}
	}

	if err := c.writeRow(record); err != nil {
		return ProblemRecord{}, err
	}
	return record, nil
}

func (c *ProblemCache) compileJury(id string, info ProblemInfo) (string, error) {
	srcPath := filepath.Join(c.juryDir, id+"-"+uuid.New().String()+".src")
	if err := os.WriteFile(srcPath, []byte(info.JurySource), 0o644); err != nil {
		return "", fmt.Errorf("cache: write jury source: %w", err)
	}
	defer os.Remove(srcPath)

	task := judge.CompilationTask{
		Program: judge.Program{
			Path: srcPath,
			Triple: langprovider.LanguageTriple{
				Language: info.JuryLanguage,
				Dialect:  info.JuryDialect,
				Version:  info.JuryVersion,
			},
		},
		Kind: judge.Checker,
	}
	result, err := c.comp.Compile(task)
	if err != nil {
		return "", err
	}
	if !result.Succeeded {
		return "", fmt.Errorf("cache: jury compile failed: %s", result.CompilerStderr)
	}

	ext := filepath.Ext(result.OutputPath)
	dest := filepath.Join(c.juryDir, id+ext)
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		return "", fmt.Errorf("cache: read compiled jury: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o755); err != nil {
		return "", fmt.Errorf("cache: write jury binary: %w", err)
	}
	return dest, nil
}

func (c *ProblemCache) readRow(id string) (ProblemRecord, bool, error) {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	row := c.db.QueryRow(`SELECT id, judge_mode, time_limit, memory_limit, jury_lang, jury_dialect, jury_version, jury_exec_path, archive_id, timestamp FROM problems WHERE id = ?`, id)

	var rec ProblemRecord
	var juryLang, juryDialect, juryVersion, juryExecPath sql.NullString
	var tsText string
	err := row.Scan(&rec.ID, &rec.JudgeMode, &rec.TimeLimitMS, &rec.MemoryLimitKB, &juryLang, &juryDialect, &juryVersion, &juryExecPath, &rec.ArchiveID, &tsText)
	if err == sql.ErrNoRows {
		return ProblemRecord{}, false, nil
	}
	if err != nil {
		return ProblemRecord{}, false, fmt.Errorf("cache: read problem row: %w", err)
	}
	rec.JuryLanguage = juryLang.String
	rec.JuryDialect = juryDialect.String
	rec.JuryVersion = juryVersion.String
	if juryExecPath.Valid {
		v := juryExecPath.String
		rec.JuryExecPath = &v
	}
	ts, err := strconv.ParseUint(tsText, 10, 64)
	if err != nil {
		return ProblemRecord{}, false, fmt.Errorf("cache: parse timestamp: %w", err)
	}
	rec.Timestamp = ts
	return rec, true, nil
}

func (c *ProblemCache) writeRow(rec ProblemRecord) error {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	var juryExecPath sql.NullString
	if rec.JuryExecPath != nil {
		juryExecPath = sql.NullString{String: *rec.JuryExecPath, Valid: true}
	}

	_, err := c.db.Exec(`INSERT INTO problems (id, judge_mode, time_limit, memory_limit, jury_lang, jury_dialect, jury_version, jury_exec_path, archive_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			judge_mode = excluded.judge_mode,
			time_limit = excluded.time_limit,
			memory_limit = excluded.memory_limit,
			jury_lang = excluded.jury_lang,
			jury_dialect = excluded.jury_dialect,
			jury_version = excluded.jury_version,
			jury_exec_path = excluded.jury_exec_path,
			archive_id = excluded.archive_id,
			timestamp = excluded.timestamp`,
		rec.ID, rec.JudgeMode, rec.TimeLimitMS, rec.MemoryLimitKB,
		sql.NullString{String: rec.JuryLanguage, Valid: rec.JuryLanguage != ""},
		sql.NullString{String: rec.JuryDialect, Valid: rec.JuryDialect != ""},
		sql.NullString{String: rec.JuryVersion, Valid: rec.JuryVersion != ""},
		juryExecPath,
		rec.ArchiveID,
		strconv.FormatUint(rec.Timestamp, 10),
	)
	if err != nil {
		return fmt.Errorf("cache: write problem row: %w", err)
	}
	return nil
}
