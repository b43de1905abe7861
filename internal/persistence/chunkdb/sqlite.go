// Package chunkdb stores saved chunks in SQLite. Writes are coalesced per
// chunk and applied by a background goroutine so the tick loop never waits
// on disk; loads see pending writes first.
package chunkdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/registry"
)

type pendingChunk struct {
	chunk   snapshot.ChunkV1
	mapping registry.Mapping
}

type Stats struct {
	Saved   uint64
	Failed  uint64
	Pending int
}

type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
	enc *zstd.Encoder
	dec *zstd.Decoder

	kick chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	saved  atomic.Uint64
	failed atomic.Uint64

	mu      sync.Mutex
	pending map[geom.ChunkKey]pendingChunk
	writing map[geom.ChunkKey]pendingChunk
	idle    *sync.Cond
}

func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		log:     log.WithField("component", "chunkdb"),
		enc:     enc,
		dec:     dec,
		kick:    make(chan struct{}, 1),
		pending: map[geom.ChunkKey]pendingChunk{},
	}
	s.idle = sync.NewCond(&s.mu)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS mappings (
			digest TEXT PRIMARY KEY,
			codes_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			mapping_digest TEXT NOT NULL REFERENCES mappings(digest),
			entities INTEGER NOT NULL,
			data BLOB NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (cx, cy, cz)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SaveChunk queues c for writing. A newer save of the same chunk replaces a
// queued one. It never blocks on disk.
func (s *Store) SaveChunk(c snapshot.ChunkV1, m registry.Mapping) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.pending[keyOf(c)] = pendingChunk{chunk: c, mapping: m}
	s.nudgeLocked()
}

func (s *Store) nudgeLocked() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// LoadChunk returns the latest saved state of key and the item mapping its
// entity records were written under.
func (s *Store) LoadChunk(key geom.ChunkKey) (snapshot.ChunkV1, registry.Mapping, bool, error) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		p, ok = s.writing[key]
	}
	s.mu.Unlock()
	if ok {
		return p.chunk, p.mapping, true, nil
	}

	var (
		data  []byte
		codes string
	)
	err := s.db.QueryRow(`SELECT c.data, m.codes_json FROM chunks c
		JOIN mappings m ON m.digest = c.mapping_digest
		WHERE c.cx = ? AND c.cy = ? AND c.cz = ?`, key.CX, key.CY, key.CZ).Scan(&data, &codes)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.ChunkV1{}, registry.Mapping{}, false, nil
	}
	if err != nil {
		return snapshot.ChunkV1{}, registry.Mapping{}, false, fmt.Errorf("chunkdb: load %v: %w", key, err)
	}
	c, err := s.decodeChunk(data)
	if err != nil {
		return snapshot.ChunkV1{}, registry.Mapping{}, false, fmt.Errorf("chunkdb: load %v: %w", key, err)
	}
	var m registry.Mapping
	if err := json.Unmarshal([]byte(codes), &m); err != nil {
		return snapshot.ChunkV1{}, registry.Mapping{}, false, fmt.Errorf("chunkdb: mapping of %v: %w", key, err)
	}
	return c, m, true, nil
}

// ChunkInfo is a listing row.
type ChunkInfo struct {
	Key      geom.ChunkKey
	Entities int
	Bytes    int
	SavedAt  string
}

func (s *Store) List() ([]ChunkInfo, error) {
	rows, err := s.db.Query(`SELECT cx, cy, cz, entities, length(data), saved_at FROM chunks ORDER BY cx, cy, cz`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkInfo
	for rows.Next() {
		var ci ChunkInfo
		if err := rows.Scan(&ci.Key.CX, &ci.Key.CY, &ci.Key.CZ, &ci.Entities, &ci.Bytes, &ci.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES(?, ?)`, key, value)
	return err
}

func (s *Store) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return v, err == nil, err
}

// Flush waits until every queued save has been written, or until a write
// fails; failed chunks stay queued for the next attempt.
func (s *Store) Flush() {
	failed := s.failed.Load()
	s.mu.Lock()
	defer s.mu.Unlock()
	for (len(s.pending) > 0 || len(s.writing) > 0) && s.failed.Load() == failed && !s.closed.Load() {
		s.nudgeLocked()
		s.idle.Wait()
	}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	return Stats{Saved: s.saved.Load(), Failed: s.failed.Load(), Pending: n}
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.Flush()
		s.mu.Lock()
		s.closed.Store(true)
		close(s.kick)
		s.mu.Unlock()
		s.wg.Wait()
		s.enc.Close()
		s.dec.Close()
		err = s.db.Close()
	})
	return err
}

func (s *Store) loop() {
	for range s.kick {
		s.mu.Lock()
		batch := s.pending
		s.pending = map[geom.ChunkKey]pendingChunk{}
		s.writing = batch
		s.mu.Unlock()

		if len(batch) > 0 {
			s.writeBatch(batch)
		}

		s.mu.Lock()
		s.writing = nil
		s.idle.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Store) writeBatch(batch map[geom.ChunkKey]pendingChunk) {
	tx, err := s.db.Begin()
	if err != nil {
		s.requeue(batch, err)
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, p := range batch {
		codes, err := json.Marshal(p.mapping)
		if err == nil {
			_, err = tx.Exec(`INSERT OR IGNORE INTO mappings(digest, codes_json) VALUES(?, ?)`, p.mapping.Digest(), string(codes))
		}
		var data []byte
		if err == nil {
			data, err = s.encodeChunk(p.chunk)
		}
		if err == nil {
			_, err = tx.Exec(`INSERT OR REPLACE INTO chunks(cx, cy, cz, mapping_digest, entities, data, saved_at) VALUES(?,?,?,?,?,?,?)`,
				key.CX, key.CY, key.CZ, p.mapping.Digest(), len(p.chunk.Entities), data, now)
		}
		if err != nil {
			_ = tx.Rollback()
			s.requeue(batch, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.requeue(batch, err)
		return
	}
	s.saved.Add(uint64(len(batch)))
}

// requeue puts a failed batch back unless newer saves replaced its chunks.
// The next SaveChunk retries it.
func (s *Store) requeue(batch map[geom.ChunkKey]pendingChunk, err error) {
	s.failed.Add(uint64(len(batch)))
	s.log.WithError(err).WithField("chunks", len(batch)).Error("chunk batch write failed")
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	for k, p := range batch {
		if _, newer := s.pending[k]; !newer {
			s.pending[k] = p
		}
	}
	s.mu.Unlock()
}

func (s *Store) encodeChunk(c snapshot.ChunkV1) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return s.enc.EncodeAll(raw, nil), nil
}

func (s *Store) decodeChunk(data []byte) (snapshot.ChunkV1, error) {
	var c snapshot.ChunkV1
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(raw, &c)
	return c, err
}

func keyOf(c snapshot.ChunkV1) geom.ChunkKey {
	return geom.ChunkKey{CX: c.CX, CY: c.CY, CZ: c.CZ}
}
