// Package directory maintains the persistent bidirectional mapping between
// short opaque tokens and upstream origins.
//
// All state is guarded by a single mutex; disk I/O for load and save happens
// while holding it, gated by a loading flag so reloads cannot re-enter. The
// contention envelope is low: one write per token creation and one timestamp
// refresh per request.
package directory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/metrics"
)

// Reload staleness thresholds. A domain miss triggers a reload when the last
// load is older than allocateReloadAfter; a token miss uses lookupReloadAfter.
const (
	allocateReloadAfter = 60 * time.Second
	lookupReloadAfter   = 30 * time.Second
)

// Persistence scheduling: an immediate save runs when the last one is older
// than saveThreshold, otherwise a delayed save is scheduled after saveDelay.
// Background tickers flush dirty state and pick up external file changes.
const (
	saveThreshold  = 10 * time.Second
	saveDelay      = 2 * time.Second
	flushInterval  = 30 * time.Second
	reloadInterval = 2 * time.Minute
)

// Entry is one token's upstream origin. Timestamp is the last-access instant
// in Unix milliseconds and is refreshed on every successful lookup.
type Entry struct {
	Domain    string `json:"domain"`
	Protocol  string `json:"protocol"`
	Timestamp int64  `json:"timestamp"`
}

// Origin returns the entry's base URL, e.g. "https://example.com".
func (e Entry) Origin() string {
	return e.Protocol + "://" + e.Domain
}

const (
	sourceRuntime = "runtime"
	sourceFile    = "file"
)

// backupEntry is a copy of an Entry held in the in-process recovery map.
type backupEntry struct {
	Entry
	Source string
}

// BackupInfo describes the in-process recovery map for diagnostics.
type BackupInfo struct {
	Size        int `json:"size"`
	FromFile    int `json:"from_file"`
	FromRuntime int `json:"from_runtime"`
}

// Directory is the token store. Create it with New and release it with Close.
type Directory struct {
	cfg    config.DirectoryConfig
	logger *slog.Logger

	mu       sync.Mutex
	byToken  map[string]*Entry
	byDomain map[string]string
	backup   map[string]backupEntry
	dirty    bool
	lastSave time.Time
	lastLoad time.Time
	loading  bool

	saveTimer *time.Timer
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// now is swapped out by tests.
	now func() time.Time
}

// New loads the directory from cfg.DBFile (creating it when absent) and
// starts the background flush, reload, and cleanup tickers.
func New(cfg config.DirectoryConfig, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		cfg:      cfg,
		logger:   logger,
		byToken:  make(map[string]*Entry),
		byDomain: make(map[string]string),
		backup:   make(map[string]backupEntry),
		done:     make(chan struct{}),
		now:      time.Now,
	}

	d.mu.Lock()
	d.loadLocked()
	count := len(d.byToken)
	d.mu.Unlock()
	logger.Info("token directory loaded", "path", cfg.DBFile, "entries", count)

	d.wg.Add(1)
	go d.run()
	return d
}

// TokenForDomain returns the token mapped to domain, allocating one when the
// domain is unknown. The domain is normalized to lowercase; protocol falls
// back to the configured default unless it is "http" or "https". Never fails.
func (d *Directory) TokenForDomain(domain, protocol string) string {
	domain = NormalizeDomain(domain)
	if protocol != "http" && protocol != "https" {
		protocol = d.cfg.DefaultProtocol
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if token, ok := d.byDomain[domain]; ok {
		d.touchLocked(token)
		return token
	}

	// The file may hold tokens another process added since our last load.
	if d.now().Sub(d.lastLoad) > allocateReloadAfter {
		d.loadLocked()
		if token, ok := d.byDomain[domain]; ok {
			d.touchLocked(token)
			return token
		}
	}

	token := d.generateTokenLocked()
	entry := &Entry{Domain: domain, Protocol: protocol, Timestamp: d.now().UnixMilli()}
	d.byToken[token] = entry
	d.byDomain[domain] = token
	d.backup[token] = backupEntry{Entry: *entry, Source: sourceRuntime}

	d.logger.Info("token allocated", "token", token, "domain", domain, "protocol", protocol)
	metrics.TokenAllocated()
	d.dirty = true
	d.saveNowLocked()
	return token
}

// DomainInfoFromToken resolves a token to its upstream origin. Unknown tokens
// are retried against the backup map and, when the last load is stale,
// against a fresh load of the file. A successful lookup refreshes the entry
// timestamp.
func (d *Directory) DomainInfoFromToken(token string) (Entry, bool) {
	if !ValidToken(token) {
		return Entry{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.byToken[token]; ok {
		d.touchLocked(token)
		return *entry, true
	}

	if be, ok := d.backup[token]; ok {
		entry := be.Entry
		entry.Timestamp = d.now().UnixMilli()
		// Re-materialise unless the domain meanwhile acquired another token;
		// inserting over it would break the bijection.
		if _, taken := d.byDomain[entry.Domain]; !taken {
			materialised := entry
			d.byToken[token] = &materialised
			d.byDomain[entry.Domain] = token
			d.backup[token] = backupEntry{Entry: materialised, Source: be.Source}
			d.scheduleSaveLocked(false)
		}
		d.logger.Debug("token recovered from backup", "token", token, "domain", entry.Domain)
		return entry, true
	}

	if d.now().Sub(d.lastLoad) > lookupReloadAfter {
		d.loadLocked()
		if entry, ok := d.byToken[token]; ok {
			d.touchLocked(token)
			return *entry, true
		}
	}

	return Entry{}, false
}

// ForceReload synchronously reloads the file and returns the entry count.
func (d *Directory) ForceReload() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadLocked()
	return len(d.byToken)
}

// AllEntries returns a copy of the directory for diagnostics.
func (d *Directory) AllEntries() map[string]Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Entry, len(d.byToken))
	for token, entry := range d.byToken {
		out[token] = *entry
	}
	return out
}

// Len returns the number of live entries.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byToken)
}

// BackupSnapshot describes the recovery map for diagnostics.
func (d *Directory) BackupSnapshot() BackupInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := BackupInfo{Size: len(d.backup)}
	for _, be := range d.backup {
		switch be.Source {
		case sourceFile:
			info.FromFile++
		default:
			info.FromRuntime++
		}
	}
	return info
}

// LastSave and LastLoad expose persistence timestamps for diagnostics.
func (d *Directory) LastSave() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSave
}

func (d *Directory) LastLoad() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastLoad
}

// Close stops the background tickers and flushes dirty state.
func (d *Directory) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
		d.mu.Lock()
		if d.saveTimer != nil {
			d.saveTimer.Stop()
			d.saveTimer = nil
		}
		if d.dirty {
			d.saveNowLocked()
		}
		d.mu.Unlock()
	})
}

// touchLocked refreshes an entry's last-access timestamp and schedules a
// debounced save.
func (d *Directory) touchLocked(token string) {
	entry, ok := d.byToken[token]
	if !ok {
		return
	}
	entry.Timestamp = d.now().UnixMilli()
	if be, ok := d.backup[token]; ok {
		be.Entry = *entry
		d.backup[token] = be
	}
	d.scheduleSaveLocked(false)
}

// cleanupExpiredLocked removes entries idle longer than TokenExpiration from
// the live maps and the backup, returning how many live entries went away.
func (d *Directory) cleanupExpiredLocked() int {
	cutoff := d.now().Add(-d.cfg.TokenExpiration()).UnixMilli()
	removed := 0
	for token, entry := range d.byToken {
		if entry.Timestamp < cutoff {
			delete(d.byToken, token)
			delete(d.byDomain, entry.Domain)
			delete(d.backup, token)
			removed++
		}
	}
	for token, be := range d.backup {
		if be.Timestamp < cutoff {
			delete(d.backup, token)
		}
	}
	if removed > 0 {
		d.scheduleSaveLocked(false)
	}
	metrics.SetDirectoryEntries(len(d.byToken))
	return removed
}

// run drives the periodic flush, reload, and cleanup tickers until Close.
func (d *Directory) run() {
	defer d.wg.Done()

	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	reload := time.NewTicker(reloadInterval)
	defer reload.Stop()
	cleanup := time.NewTicker(d.cfg.CleanupInterval())
	defer cleanup.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-flush.C:
			d.mu.Lock()
			if d.dirty {
				d.saveNowLocked()
			}
			d.mu.Unlock()
		case <-reload.C:
			// Best-effort pickup of other writers sharing the file. Skipped
			// while dirty so local additions are not clobbered before the
			// next flush.
			d.mu.Lock()
			if !d.loading && !d.dirty {
				d.loadLocked()
			}
			d.mu.Unlock()
		case <-cleanup.C:
			d.mu.Lock()
			removed := d.cleanupExpiredLocked()
			d.mu.Unlock()
			if removed > 0 {
				d.logger.Info("expired tokens removed", "count", removed)
			}
		}
	}
}
