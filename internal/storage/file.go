package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "forumsign/pkg/logx"
)

// fileStore keeps everything in memory and persists it as:
//   - <prefix>.snapshot.json   (periodic snapshot of kv + dedup)
//   - <prefix>.journal.jsonl   (append-only ops since the snapshot)
//   - <prefix>.audit.jsonl     (append-only audit trail)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	auditFile    *os.File

	kv     map[string]map[string][]byte
	dedup  map[string]int64 // unix milli
	writes int
}

const compactEvery = 500

type journalOp struct {
	Op    string `json:"op"` // put | del | dedup
	NS    string `json:"ns,omitempty"`
	Key   string `json:"key"`
	Val   []byte `json:"val,omitempty"`
	Until int64  `json:"until,omitempty"`
}

type snapshot struct {
	KV    map[string]map[string][]byte `json:"kv"`
	Dedup map[string]int64             `json:"dedup"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		kv:           map[string]map[string][]byte{},
		dedup:        map[string]int64{},
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal", logx.Err(err))
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	pruneExpiredDedup(s.dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	s.auditFile = af
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for ns, bucket := range snap.KV {
		s.kv[ns] = bucket
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		s.applyLocked(op)
	}
	return sc.Err()
}

func (s *fileStore) applyLocked(op journalOp) {
	switch op.Op {
	case "put":
		bucket := s.kv[op.NS]
		if bucket == nil {
			bucket = map[string][]byte{}
			s.kv[op.NS] = bucket
		}
		bucket[op.Key] = op.Val
	case "del":
		delete(s.kv[op.NS], op.Key)
	case "dedup":
		s.dedup[op.Key] = op.Until
	}
}

func (s *fileStore) writeLocked(op journalOp) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.applyLocked(op)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) Put(_ context.Context, ns, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalOp{Op: "put", NS: ns, Key: key, Val: append([]byte(nil), val...)})
}

func (s *fileStore) Delete(_ context.Context, ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kv[ns][key]; !ok {
		return nil
	}
	return s.writeLocked(journalOp{Op: "del", NS: ns, Key: key})
}

func (s *fileStore) Keys(_ context.Context, ns string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.kv[ns]))
	for k := range s.kv[ns] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalOp{Op: "dedup", Key: key, Until: until.UnixMilli()})
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok || ms < time.Now().UnixMilli() {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// compactLocked writes a fresh snapshot via tmp+rename, then truncates the journal.
func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snapshot{KV: s.kv, Dedup: s.dedup}); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	if s.auditFile != nil {
		if cerr := s.auditFile.Close(); err == nil {
			err = cerr
		}
		s.auditFile = nil
	}
	return err
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
