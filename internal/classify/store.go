package classify

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

// Category tags a term weight as evidence for or against an activity.
type Category string

const (
	CategoryActivity    Category = "activity"
	CategoryNonActivity Category = "non_activity"
)

// ConfidenceFloor is the lowest confidence a learned pattern can decay to.
const ConfidenceFloor = 0.05

// TermWeight is a static scoring entry. A token carries at most one weight
// per category.
type TermWeight struct {
	Token    string
	Weight   float64
	Category Category
}

// LearnedPattern is a dynamically learned verdict for a text fingerprint.
type LearnedPattern struct {
	Fingerprint string
	Verdict     Verdict
	Confidence  float64
	TimesSeen   int
	UpdatedAt   time.Time
}

// Store holds static term weights plus learned patterns and persists the
// learned side to sqlite. Reads are concurrent; mutation takes the write
// lock briefly per pattern.
type Store struct {
	db *sql.DB

	mu          sync.RWMutex
	activity    map[string]float64
	nonActivity map[string]float64
	learned     map[string]*LearnedPattern
	dirty       map[string]struct{}
}

func NewStore(dbPath, termsDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{
		db:          db,
		activity:    defaultActivityTerms(),
		nonActivity: defaultNonActivityTerms(),
		learned:     make(map[string]*LearnedPattern),
		dirty:       make(map[string]struct{}),
	}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadLearned(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if termsDir != "" {
		if err := s.loadTermFiles(termsDir); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS learned_patterns (
		fingerprint TEXT PRIMARY KEY,
		verdict TEXT NOT NULL,
		confidence REAL NOT NULL,
		times_seen INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) loadLearned() error {
	rows, err := s.db.Query(`SELECT fingerprint, verdict, confidence, times_seen, updated_at FROM learned_patterns`)
	if err != nil {
		return fmt.Errorf("load learned patterns: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var p LearnedPattern
		var verdict, updated string
		if err := rows.Scan(&p.Fingerprint, &verdict, &p.Confidence, &p.TimesSeen, &updated); err != nil {
			return fmt.Errorf("scan learned pattern: %w", err)
		}
		p.Verdict = Verdict(verdict)
		if ts, err := time.Parse("2006-01-02 15:04:05", updated); err == nil {
			p.UpdatedAt = ts
		}
		s.learned[p.Fingerprint] = &p
	}
	return rows.Err()
}

// loadTermFiles overlays static weights from activity_terms.yaml and
// non_activity_terms.yaml when present. Missing files are not an error; the
// built-in defaults stay in effect.
func (s *Store) loadTermFiles(dir string) error {
	load := func(name string, into map[string]float64) error {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read %s: %w", name, err)
		}
		var terms map[string]float64
		if err := yaml.Unmarshal(data, &terms); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for token, weight := range terms {
			into[stemToken(token)] = weight
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := load("activity_terms.yaml", s.activity); err != nil {
		return err
	}
	return load("non_activity_terms.yaml", s.nonActivity)
}

// TermWeightFor returns the static weight of a token in a category.
func (s *Store) TermWeightFor(token string, cat Category) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var w float64
	var ok bool
	switch cat {
	case CategoryActivity:
		w, ok = s.activity[token]
	case CategoryNonActivity:
		w, ok = s.nonActivity[token]
	}
	return w, ok
}

// Learned returns a copy of the learned pattern for a fingerprint.
func (s *Store) Learned(fingerprint string) (LearnedPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.learned[fingerprint]
	if !ok {
		return LearnedPattern{}, false
	}
	return *p, true
}

// Reinforce records an observed verdict for a fingerprint. The counter only
// moves up; confidence moves toward the observation by at most maxAdjust and
// never below the floor.
func (s *Store) Reinforce(fingerprint string, verdict Verdict, confidence, maxAdjust float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.learned[fingerprint]
	if !ok {
		s.learned[fingerprint] = &LearnedPattern{
			Fingerprint: fingerprint,
			Verdict:     verdict,
			Confidence:  clampConfidence(confidence),
			TimesSeen:   1,
			UpdatedAt:   time.Now().UTC(),
		}
		s.dirty[fingerprint] = struct{}{}
		return
	}

	p.TimesSeen++
	target := (p.Confidence + confidence) / 2
	delta := target - p.Confidence
	if delta > maxAdjust {
		delta = maxAdjust
	} else if delta < -maxAdjust {
		delta = -maxAdjust
	}
	p.Confidence = clampConfidence(p.Confidence + delta)
	p.Verdict = verdict
	p.UpdatedAt = time.Now().UTC()
	s.dirty[fingerprint] = struct{}{}
}

func clampConfidence(c float64) float64 {
	if c < ConfidenceFloor {
		return ConfidenceFloor
	}
	if c > 1 {
		return 1
	}
	return c
}

// Flush persists dirty learned patterns. Best-effort: the caller logs the
// error and classification continues from memory.
func (s *Store) Flush() error {
	s.mu.Lock()
	pending := make([]LearnedPattern, 0, len(s.dirty))
	for fp := range s.dirty {
		if p, ok := s.learned[fp]; ok {
			pending = append(pending, *p)
		}
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO learned_patterns (fingerprint, verdict, confidence, times_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			verdict=excluded.verdict,
			confidence=excluded.confidence,
			times_seen=excluded.times_seen,
			updated_at=excluded.updated_at`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare flush: %w", err)
	}
	defer stmt.Close()

	for _, p := range pending {
		if _, err := stmt.Exec(p.Fingerprint, string(p.Verdict), p.Confidence, p.TimesSeen, p.UpdatedAt.Format("2006-01-02 15:04:05")); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("flush pattern %s: %w", p.Fingerprint, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	return nil
}

// Decay ages learned confidence toward the floor and drops single-sighting
// patterns that have gone stale. Run nightly.
func (s *Store) Decay(staleAfter time.Duration) (dropped int) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	s.mu.Lock()
	for fp, p := range s.learned {
		if p.TimesSeen <= 1 && p.UpdatedAt.Before(cutoff) {
			delete(s.learned, fp)
			delete(s.dirty, fp)
			dropped++
			continue
		}
		p.Confidence = clampConfidence(p.Confidence * 0.98)
		s.dirty[fp] = struct{}{}
	}
	s.mu.Unlock()

	if dropped > 0 {
		_, _ = s.db.Exec(`DELETE FROM learned_patterns WHERE times_seen <= 1 AND updated_at < ?`,
			cutoff.Format("2006-01-02 15:04:05"))
	}
	return dropped
}

// Stats summarizes the store for the patterns CLI command.
type Stats struct {
	StaticActivity    int
	StaticNonActivity int
	Learned           int
	PendingFlush      int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		StaticActivity:    len(s.activity),
		StaticNonActivity: len(s.nonActivity),
		Learned:           len(s.learned),
		PendingFlush:      len(s.dirty),
	}
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.Flush(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}
