package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"p2pxfer/models"
)

// PeersFileName is the normative peers.json filename, per spec.md §6.1.
const PeersFileName = "peers.json"

// PeerStore persists the set of PeerRecords produced by a successful
// pairing run (see package pairing). Unlike HistoryStore, this is the
// normative trust record: it is the only source of a "known peer".
type PeerStore struct {
	path string
	mu   sync.Mutex
}

// OpenPeerStore returns a PeerStore backed by peers.json under
// configDir, creating configDir if needed. It does not itself create
// the file; Load tolerates a missing file as an empty peer set.
func OpenPeerStore(configDir string) (*PeerStore, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create config directory: %w", err)
	}
	return &PeerStore{path: filepath.Join(configDir, PeersFileName)}, nil
}

// Load returns every persisted PeerRecord, or an empty slice if
// peers.json does not yet exist.
func (p *PeerStore) Load() ([]models.PeerRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked()
}

func (p *PeerStore) loadLocked() ([]models.PeerRecord, error) {
	raw, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return []models.PeerRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p.path, err)
	}
	var records []models.PeerRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", p.path, err)
	}
	return records, nil
}

func (p *PeerStore) saveLocked(records []models.PeerRecord) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal peers: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(p.path, raw, 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", p.path, err)
	}
	return nil
}

// Upsert inserts or replaces the PeerRecord matching rec.EndpointID and
// persists the result.
func (p *PeerStore) Upsert(rec models.PeerRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.loadLocked()
	if err != nil {
		return err
	}

	replaced := false
	for i := range records {
		if records[i].EndpointID == rec.EndpointID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return p.saveLocked(records)
}

// Find returns the PeerRecord for id, if known.
func (p *PeerStore) Find(id models.EndpointId) (models.PeerRecord, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.loadLocked()
	if err != nil {
		return models.PeerRecord{}, false, err
	}
	for _, rec := range records {
		if rec.EndpointID == id {
			return rec, true, nil
		}
	}
	return models.PeerRecord{}, false, nil
}

// Remove deletes the PeerRecord for id, if present, and reports whether
// anything was removed.
func (p *PeerStore) Remove(id models.EndpointId) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.loadLocked()
	if err != nil {
		return false, err
	}
	out := make([]models.PeerRecord, 0, len(records))
	removed := false
	for _, rec := range records {
		if rec.EndpointID == id {
			removed = true
			continue
		}
		out = append(out, rec)
	}
	if !removed {
		return false, nil
	}
	return true, p.saveLocked(out)
}
