package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

// FileLedger keeps the ledger as an append-only JSON Lines journal. The whole
// journal is replayed into memory on open; each commit appends one line and
// syncs the file before returning. A failed append is cut back off the file;
// when that is not possible the ledger refuses further use.
type FileLedger struct {
	mu      sync.RWMutex
	path    string
	file    journalFile
	size    int64
	broken  error
	records map[domain.Identity]time.Time
}

// journalFile is the part of *os.File the ledger writes through.
type journalFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

var _ ports.Ledger = (*FileLedger)(nil)

type journalEntry struct {
	SubscriberID string    `json:"subscriber_id"`
	Source       string    `json:"source"`
	ExternalID   string    `json:"external_id"`
	NotifiedAt   time.Time `json:"notified_at"`
}

var errLedgerClosed = errors.New("ledger is closed")

// OpenFileLedger replays the journal at path and opens it for appending.
// Lines that cannot be decoded, such as a torn final write, are skipped with
// a warning.
func OpenFileLedger(path string, logger *slog.Logger) (*FileLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	records, err := replayJournal(path, logger)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := terminateLastLine(path, f); err != nil {
		_ = f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	return &FileLedger{path: path, file: f, size: info.Size(), records: records}, nil
}

// terminateLastLine appends a newline when the journal ends mid-line, so the
// next entry is not glued to a torn one.
func terminateLastLine(path string, w *os.File) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer r.Close()

	info, err := r.Stat()
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read journal tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminate journal: %w", err)
	}
	return nil
}

func replayJournal(path string, logger *slog.Logger) (map[domain.Identity]time.Time, error) {
	records := make(map[domain.Identity]time.Time)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Warn("skip unreadable journal line", "path", path, "line", line, "error", err)
			continue
		}
		id := domain.DeriveIdentity(e.SubscriberID, e.Source, e.ExternalID)
		if _, ok := records[id]; !ok {
			records[id] = e.NotifiedAt
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return records, nil
}

func (l *FileLedger) Exists(ctx context.Context, id domain.Identity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.NewLedgerError("exists", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.file == nil {
		return false, domain.NewLedgerError("exists", errLedgerClosed)
	}
	if l.broken != nil {
		return false, domain.NewLedgerError("exists", l.broken)
	}
	_, ok := l.records[id]
	return ok, nil
}

func (l *FileLedger) Commit(ctx context.Context, rec domain.LedgerRecord) error {
	if err := ctx.Err(); err != nil {
		return domain.NewLedgerError("commit", err)
	}
	at := notifiedAt(rec)
	line, err := json.Marshal(journalEntry{
		SubscriberID: rec.Identity.SubscriberID,
		Source:       rec.Identity.Source,
		ExternalID:   rec.Identity.ExternalID,
		NotifiedAt:   at,
	})
	if err != nil {
		return domain.NewLedgerError("commit", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return domain.NewLedgerError("commit", errLedgerClosed)
	}
	if l.broken != nil {
		return domain.NewLedgerError("commit", l.broken)
	}
	if _, ok := l.records[rec.Identity]; ok {
		return nil
	}
	if _, err := l.file.Write(line); err != nil {
		err = fmt.Errorf("append journal: %w", err)
		if terr := l.file.Truncate(l.size); terr != nil {
			l.broken = fmt.Errorf("journal has a torn entry at offset %d: %w", l.size, terr)
		}
		return domain.NewLedgerError("commit", err)
	}
	if err := l.file.Sync(); err != nil {
		l.broken = fmt.Errorf("journal sync failed: %w", err)
		return domain.NewLedgerError("commit", l.broken)
	}
	l.size += int64(len(line))
	l.records[rec.Identity] = at
	return nil
}

func (l *FileLedger) Ping(context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.file == nil {
		return domain.NewLedgerError("ping", errLedgerClosed)
	}
	if l.broken != nil {
		return domain.NewLedgerError("ping", l.broken)
	}
	if _, err := l.file.Stat(); err != nil {
		return domain.NewLedgerError("ping", err)
	}
	return nil
}

func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Len returns the number of recorded identities.
func (l *FileLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
