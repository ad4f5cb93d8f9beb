package directory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/synapsr/proxywarp/internal/metrics"
)

// scheduleSaveLocked marks the state dirty and either saves immediately (when
// forced or the last save is older than saveThreshold) or arms a one-shot
// delayed save.
func (d *Directory) scheduleSaveLocked(force bool) {
	d.dirty = true
	if force || d.now().Sub(d.lastSave) > saveThreshold {
		d.saveNowLocked()
		return
	}
	if d.saveTimer == nil {
		d.saveTimer = time.AfterFunc(saveDelay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.saveTimer = nil
			if d.dirty {
				d.saveNowLocked()
			}
		})
	}
}

// saveNowLocked writes the token map to DBFile via a temp file and an atomic
// rename. Errors leave dirty set so the next flush tick retries.
func (d *Directory) saveNowLocked() {
	data, err := json.MarshalIndent(d.byToken, "", "  ")
	if err != nil {
		d.logger.Error("token db marshal failed", "err", err)
		metrics.DirectorySave(false)
		return
	}

	if dir := filepath.Dir(d.cfg.DBFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			d.logger.Error("token db directory unavailable", "path", dir, "err", err)
			metrics.DirectorySave(false)
			return
		}
	}

	tmp := d.cfg.DBFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		d.logger.Error("token db write failed", "path", tmp, "err", err)
		metrics.DirectorySave(false)
		return
	}
	if err := os.Rename(tmp, d.cfg.DBFile); err != nil {
		d.logger.Error("token db rename failed", "path", d.cfg.DBFile, "err", err)
		metrics.DirectorySave(false)
		return
	}

	d.dirty = false
	d.lastSave = d.now()
	if d.saveTimer != nil {
		d.saveTimer.Stop()
		d.saveTimer = nil
	}
	metrics.DirectorySave(true)
	metrics.SetDirectoryEntries(len(d.byToken))
}

// loadLocked replaces in-memory state from DBFile. A missing file materialises
// an empty one; an unreadable or unparseable file falls back to the backup map
// when it has entries, otherwise resets to empty state. The loading flag
// excludes re-entrant loads on every exit path.
func (d *Directory) loadLocked() {
	if d.loading {
		return
	}
	d.loading = true
	defer func() { d.loading = false }()

	if dir := filepath.Dir(d.cfg.DBFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			d.logger.Error("token db directory unavailable", "path", dir, "err", err)
		}
	}

	data, err := os.ReadFile(d.cfg.DBFile)
	if err != nil {
		if os.IsNotExist(err) {
			d.lastLoad = d.now()
			d.saveNowLocked()
			return
		}
		metrics.DirectoryLoadError()
		d.logger.Error("token db read failed", "path", d.cfg.DBFile, "err", err)
		if len(d.backup) > 0 {
			d.restoreFromBackupLocked()
		} else {
			d.resetLocked()
			d.saveNowLocked()
		}
		d.lastLoad = d.now()
		return
	}

	parsed := make(map[string]*Entry)
	if err := json.Unmarshal(data, &parsed); err != nil {
		metrics.DirectoryLoadError()
		d.logger.Error("token db parse failed", "path", d.cfg.DBFile, "err", err)
		if len(d.backup) > 0 {
			d.restoreFromBackupLocked()
		} else {
			d.resetLocked()
			d.saveNowLocked()
		}
		d.lastLoad = d.now()
		return
	}

	d.installLocked(parsed, sourceFile)
	d.lastLoad = d.now()
	d.dirty = false
	metrics.SetDirectoryEntries(len(d.byToken))
}

// installLocked replaces byToken/byDomain from parsed entries, skipping
// malformed ones, and folds the survivors into the backup map.
func (d *Directory) installLocked(parsed map[string]*Entry, source string) {
	byToken := make(map[string]*Entry, len(parsed))
	byDomain := make(map[string]string, len(parsed))
	for token, entry := range parsed {
		if entry == nil || !ValidToken(token) {
			d.logger.Warn("skipping malformed token entry", "token", token)
			continue
		}
		entry.Domain = NormalizeDomain(entry.Domain)
		if !ValidDomain(entry.Domain) {
			d.logger.Warn("skipping malformed token entry", "token", token, "domain", entry.Domain)
			continue
		}
		if entry.Protocol != "http" && entry.Protocol != "https" {
			entry.Protocol = d.cfg.DefaultProtocol
		}
		if _, dup := byDomain[entry.Domain]; dup {
			d.logger.Warn("skipping duplicate domain entry", "token", token, "domain", entry.Domain)
			continue
		}
		byToken[token] = entry
		byDomain[entry.Domain] = token
	}
	d.byToken = byToken
	d.byDomain = byDomain
	for token, entry := range byToken {
		d.backup[token] = backupEntry{Entry: *entry, Source: source}
	}
}

// restoreFromBackupLocked rebuilds the live maps from the backup copies and
// force-saves the result.
func (d *Directory) restoreFromBackupLocked() {
	parsed := make(map[string]*Entry, len(d.backup))
	for token, be := range d.backup {
		entry := be.Entry
		parsed[token] = &entry
	}
	d.installLocked(parsed, sourceRuntime)
	d.logger.Warn("token db recovered from in-memory backup", "entries", len(d.byToken))
	d.saveNowLocked()
}

// resetLocked discards the live maps.
func (d *Directory) resetLocked() {
	d.byToken = make(map[string]*Entry)
	d.byDomain = make(map[string]string)
}
