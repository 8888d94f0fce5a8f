package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	logx "tophourbot/pkg/logx"
)

// fileStore is an append-only JSON Lines backend.
//
// Files:
//   - <prefix>.reports.jsonl
//   - <prefix>.audit.jsonl
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	reportsPath string
	reportsFile *os.File
	auditFile   *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	reportsPath := prefix + ".reports.jsonl"
	rf, err := os.OpenFile(reportsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:         log,
		reportsPath: reportsPath,
		reportsFile: rf,
		auditFile:   af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.reportsFile != nil {
		errs = append(errs, s.reportsFile.Close())
		s.reportsFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) PutReport(ctx context.Context, r Report) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.reportsFile).Encode(r)
}

func (s *fileStore) Reports(ctx context.Context, kind string, limit int) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportsFile == nil {
		return nil, ErrClosed
	}

	f, err := os.Open(s.reportsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Report
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r Report
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping malformed report line", logx.Err(err))
			continue
		}
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
