package metrics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
	"github.com/roelfdiedericks/kaitiaki/internal/paths"
)

const (
	saveInterval = 5 * time.Minute
	retention    = 7 * 24 * time.Hour
)

const schema = `CREATE TABLE IF NOT EXISTS model_metrics (
	path       TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

const upsert = `INSERT INTO model_metrics (path, type, payload, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET type = excluded.type, payload = excluded.payload, updated_at = excluded.updated_at`

// Open enables persistence at dbPath. It restores saved metrics, drops rows
// untouched for a week and saves every five minutes until Close.
func (m *Manager) Open(dbPath string) error {
	dbPath, err := paths.ExpandTilde(dbPath)
	if err != nil {
		return err
	}
	if err := paths.EnsureParentDir(dbPath); err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("metrics: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("metrics: create schema: %w", err)
	}

	if res, err := db.Exec("DELETE FROM model_metrics WHERE updated_at < ?", time.Now().Add(-retention).Unix()); err != nil {
		L_warn("metrics: failed to prune stale rows", "error", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		L_info("metrics: pruned stale rows", "count", n)
	}

	restored, err := m.restore(db)
	if err != nil {
		L_warn("metrics: failed to restore saved metrics", "error", err)
	} else if restored > 0 {
		L_info("metrics: restored saved metrics", "count", restored, "path", dbPath)
	}

	m.db = db
	m.stopSave = make(chan struct{})
	m.saveWG.Add(1)
	go m.saveLoop()
	return nil
}

func (m *Manager) saveLoop() {
	defer m.saveWG.Done()
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Save(); err != nil {
				L_warn("metrics: periodic save failed", "error", err)
			}
		case <-m.stopSave:
			return
		}
	}
}

// Close stops the save loop, saves once more and closes the database. It
// is a no-op when Open was never called.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	close(m.stopSave)
	m.saveWG.Wait()

	if err := m.Save(); err != nil {
		L_warn("metrics: final save failed", "error", err)
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// row is one metric ready to be written.
type row struct {
	path    string
	typ     Type
	payload []byte
}

// Save writes every metric in one transaction.
func (m *Manager) Save() error {
	if m.db == nil {
		return nil
	}

	rows, err := m.encode()
	if err != nil {
		return err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(upsert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range rows {
		if _, err := stmt.Exec(r.path, string(r.typ), string(r.payload), now); err != nil {
			return fmt.Errorf("metrics: save %s: %w", r.path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	L_trace("metrics: saved", "rows", len(rows))
	return nil
}

// encode marshals each metric under its own lock.
func (m *Manager) encode() ([]row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]row, 0, len(m.timings)+len(m.counters)+len(m.outcomes))
	add := func(path string, typ Type, mu interface{ Lock(); Unlock() }, v any) error {
		mu.Lock()
		data, err := json.Marshal(v)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("metrics: encode %s: %w", path, err)
		}
		out = append(out, row{path: path, typ: typ, payload: data})
		return nil
	}

	for path, t := range m.timings {
		if err := add(path, TypeTiming, &t.mu, t); err != nil {
			return nil, err
		}
	}
	for path, c := range m.counters {
		if err := add(path, TypeCounter, &c.mu, c); err != nil {
			return nil, err
		}
	}
	for path, o := range m.outcomes {
		if err := add(path, TypeOutcome, &o.mu, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// restore loads saved rows into the maps. Rows that fail to decode are
// skipped with a warning.
func (m *Manager) restore(db *sql.DB) (int, error) {
	rows, err := db.Query("SELECT path, type, payload FROM model_metrics")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for rows.Next() {
		var path, typ, payload string
		if err := rows.Scan(&path, &typ, &payload); err != nil {
			return n, err
		}
		if err := m.decode(path, Type(typ), []byte(payload)); err != nil {
			L_warn("metrics: skipping saved metric", "path", path, "type", typ, "error", err)
			continue
		}
		n++
	}
	return n, rows.Err()
}

// decode must be called with m.mu held.
func (m *Manager) decode(path string, typ Type, payload []byte) error {
	switch typ {
	case TypeTiming:
		t := newTiming()
		if err := json.Unmarshal(payload, t); err != nil {
			return err
		}
		if len(t.Samples) > samplesKept {
			t.Samples = t.Samples[len(t.Samples)-samplesKept:]
		}
		m.timings[path] = t
	case TypeCounter:
		c := newCounter()
		if err := json.Unmarshal(payload, c); err != nil {
			return err
		}
		m.counters[path] = c
	case TypeOutcome:
		o := newOutcome()
		if err := json.Unmarshal(payload, o); err != nil {
			return err
		}
		if o.Reasons == nil {
			o.Reasons = make(map[string]int64)
		}
		m.outcomes[path] = o
	default:
		return fmt.Errorf("unknown metric type %q", typ)
	}
	return nil
}
