package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "schedkit/pkg/logx"
)

// fileStore appends runs to <prefix>.runs.jsonl. Every compactEvery writes
// the file is rewritten with only the newest Retain records.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu     sync.Mutex
	f      *os.File
	writes int
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	runsPath := filepath.Join(dir, base) + ".runs.jsonl"

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: runsPath, retain: cfg.Retain, f: f}
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Warn("run history compaction failed", logx.String("path", runsPath), logx.Err(err))
	}
	s.mu.Unlock()
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run history compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}

	// ring of the newest matches
	ring := make([]RunRecord, 0, limit)
	start := 0
	err := s.scanLocked(func(r RunRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job != "" && r.Job != job && r.JobID != job {
			return nil
		}
		if len(ring) < limit {
			ring = append(ring, r)
			return nil
		}
		ring[start] = r
		start = (start + 1) % limit
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RunRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(start+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) scanLocked(fn func(RunRecord) error) error {
	rf, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer rf.Close()
	sc := bufio.NewScanner(rf)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *fileStore) compactLocked() error {
	var keep []RunRecord
	total := 0
	err := s.scanLocked(func(r RunRecord) error {
		total++
		keep = append(keep, r)
		if len(keep) > 2*s.retain {
			keep = append(keep[:0], keep[len(keep)-s.retain:]...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if total <= s.retain {
		return nil
	}
	if len(keep) > s.retain {
		keep = keep[len(keep)-s.retain:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	// reopen: the old descriptor points at the replaced file
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.log.Debug("run history compacted", logx.Int("dropped", total-len(keep)))
	return nil
}
