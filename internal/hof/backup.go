package hof

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// backupFileName is the on-disk name of a server's backup (spec.md §4.4).
func backupFileName(ident string) string {
	return ident + ".zhof"
}

// WriteBackup serializes snapshot as JSON, zlib-compresses it, and writes
// it atomically (via a temp file + rename) to "<ident>.zhof".
func WriteBackup(ident string, snapshot BackupSnapshot) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("hof: encoding backup for %s: %w", ident, err)
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(encoded); err != nil {
		w.Close()
		return fmt.Errorf("hof: compressing backup for %s: %w", ident, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("hof: compressing backup for %s: %w", ident, err)
	}

	name := backupFileName(ident)
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, compressed.Bytes(), 0o644); err != nil {
		return fmt.Errorf("hof: writing backup for %s: %w", ident, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("hof: committing backup for %s: %w", ident, err)
	}
	return nil
}

// ReadBackup reads and decodes "<ident>.zhof" from the current directory.
func ReadBackup(ident string) (*BackupSnapshot, error) {
	raw, err := os.ReadFile(backupFileName(ident))
	if err != nil {
		return nil, err
	}

	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("hof: decompressing backup for %s: %w", ident, err)
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hof: decompressing backup for %s: %w", ident, err)
	}

	var snapshot BackupSnapshot
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return nil, fmt.Errorf("hof: decoding backup for %s: %w", ident, err)
	}
	return &snapshot, nil
}

const restoreYieldEvery = 10_000

// RestoreBackup rebuilds a WorkerQueue and CharacterIndex from a (possibly
// nil) snapshot, falling back to a fresh queue of totalPages pages when
// backup is nil (spec.md §4.2 restore_backup). Restoring always mints a
// new QueID: any in-flight work from a prior process is gone, so nothing
// should be trusted to still be "in flight" (testable property 5).
//
// ctx is checked periodically so restoring a very large backup can be
// cancelled; this mirrors the original's cooperative yield_now() every
// ~10,000 characters so UI work is never blocked for long.
func RestoreBackup(ctx context.Context, backup *BackupSnapshot, totalPages uint32) (*WorkerQueue, *CharacterIndex, error) {
	if backup == nil {
		backup = &BackupSnapshot{
			Order:    OrderRandom,
			MinLevel: DefaultMinLevel,
			MaxLevel: DefaultMaxLevel,
		}
		pages := make([]uint32, totalPages)
		for i := range pages {
			pages[i] = uint32(i)
		}
		backup.TodoPages = pages
	}

	todoPages := append([]uint32(nil), backup.TodoPages...)
	ApplyOrder(backup.Order, todoPages)

	q := &WorkerQueue{
		QueID:              NewQueID(),
		TodoPages:          todoPages,
		InvalidPages:       append([]uint32(nil), backup.InvalidPages...),
		TodoAccounts:       append([]string(nil), backup.TodoAccounts...),
		InvalidAccounts:    append([]string(nil), backup.InvalidAccounts...),
		InFlightAccounts:   make(map[string]struct{}),
		Order:              backup.Order,
		LvlSkippedAccounts: backup.LvlSkippedAccounts,
		MinLevel:           backup.MinLevel,
		MaxLevel:           backup.MaxLevel,
		SelfInit:           false,
	}
	if q.LvlSkippedAccounts == nil {
		q.LvlSkippedAccounts = make(map[uint32][]string)
	}

	idx := NewCharacterIndex()
	for i, ci := range backup.Characters {
		if i%restoreYieldEvery == restoreYieldEvery-1 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			default:
			}
		}
		idx.Upsert(ci)
	}

	return q, idx, nil
}

const onlineBackupBase = "https://hof-cache.marenga.dev"

// OnlineBackupFetcher abstracts the HTTP round trips GetNewestBackup makes,
// so tests never need a live network.
type OnlineBackupFetcher interface {
	// FetchVersion returns the RFC 2822 timestamp of the online backup for
	// ident, or an error if none exists.
	FetchVersion(ctx context.Context, ident string) (time.Time, error)
	// FetchBackup downloads the compressed backup bytes for ident.
	FetchBackup(ctx context.Context, ident string) ([]byte, error)
}

// httpBackupFetcher is the production OnlineBackupFetcher, grounded on the
// original's fetch_online_hof_date/fetch_online_hof (reqwest GETs against
// hof-cache.marenga.dev).
type httpBackupFetcher struct {
	Client *http.Client
}

// NewHTTPBackupFetcher returns a fetcher using http.DefaultClient.
func NewHTTPBackupFetcher() OnlineBackupFetcher {
	return &httpBackupFetcher{Client: http.DefaultClient}
}

func (f *httpBackupFetcher) FetchVersion(ctx context.Context, ident string) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, onlineBackupBase+"/"+ident+".version", nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("hof: fetching %s.version: status %d", ident, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return time.Time{}, err
	}
	t, err := mail.ParseDate(string(bytes.TrimSpace(body)))
	if err != nil {
		return time.Time{}, fmt.Errorf("hof: parsing %s.version timestamp: %w", ident, err)
	}
	return t.UTC(), nil
}

func (f *httpBackupFetcher) FetchBackup(ctx context.Context, ident string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, onlineBackupBase+"/"+ident+".zhof", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hof: fetching %s.zhof: status %d", ident, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// GetNewestBackup implements spec.md §4.4's freshness protocol: read the
// local backup, and — if fetchOnline is set — compare its export_time
// against the online snapshot's version timestamp. The online snapshot is
// downloaded only if it is strictly newer than the local one; a tie
// prefers the local copy (grounded on the original's `bt < ot` check,
// where equal times make the comparison false).
func GetNewestBackup(ctx context.Context, fetcher OnlineBackupFetcher, ident string, fetchOnline bool) (*BackupSnapshot, error) {
	local, localErr := ReadBackup(ident)

	if !fetchOnline {
		if localErr != nil {
			return nil, nil
		}
		return local, nil
	}

	onlineTime, onlineErr := fetcher.FetchVersion(ctx, ident)

	shouldFetch := false
	switch {
	case onlineErr != nil:
		shouldFetch = false
	case localErr != nil || local.ExportTime == nil:
		shouldFetch = true
	default:
		shouldFetch = local.ExportTime.UTC().Before(onlineTime)
	}

	if shouldFetch {
		raw, err := fetcher.FetchBackup(ctx, ident)
		if err == nil {
			name := backupFileName(ident)
			tmp := name + ".tmp"
			if err := os.WriteFile(tmp, raw, 0o644); err == nil {
				if err := os.Rename(tmp, name); err == nil {
					if refreshed, err := ReadBackup(ident); err == nil {
						local, localErr = refreshed, nil
					}
				}
			}
		}
	}

	if localErr != nil {
		return nil, nil
	}
	return local, nil
}
