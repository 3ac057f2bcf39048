package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"travellog/internal/travellog"
)

const snapshotFormat = 1

// PassphraseFunc supplies the passphrase that unlocks the private key. It is
// called at most once, on the first encrypted Load.
type PassphraseFunc func() (string, error)

// SnapshotStore implements travellog.Persistence on top of a BlobStore.
// Snapshots are JSON documents, optionally encrypted with an Encryptor.
type SnapshotStore struct {
	blobs      BlobStore
	encryptor  travellog.Encryptor
	passphrase PassphraseFunc

	mu  sync.Mutex
	dec travellog.DecryptionContext
}

var _ travellog.Persistence = (*SnapshotStore)(nil)

// NewSnapshotStore creates a store. encryptor may be nil for plaintext
// snapshots; passphrase is only needed when encryptor is set.
func NewSnapshotStore(blobs BlobStore, encryptor travellog.Encryptor, passphrase PassphraseFunc) *SnapshotStore {
	return &SnapshotStore{blobs: blobs, encryptor: encryptor, passphrase: passphrase}
}

type snapshotDoc struct {
	Format  int         `json:"format"`
	Owner   string      `json:"owner"`
	SavedAt time.Time   `json:"saved_at"`
	Records []recordDoc `json:"records"`
}

type recordDoc struct {
	ID        string `json:"id"`
	Country   string `json:"country"`
	City      string `json:"city"`
	VisitedOn string `json:"visited_on"`
	Sequence  int64  `json:"sequence"`
}

// Key returns the blob key of the owner's snapshot.
func (s *SnapshotStore) Key(owner travellog.OwnerKey) string {
	key := "snapshots/" + sanitize(string(owner)) + ".json"
	if s.encryptor != nil {
		key += ".age"
	}
	return key
}

func (s *SnapshotStore) Save(ctx context.Context, owner travellog.OwnerKey, snap travellog.Snapshot) error {
	doc := snapshotDoc{
		Format:  snapshotFormat,
		Owner:   string(owner),
		SavedAt: snap.SavedAt.UTC(),
		Records: make([]recordDoc, 0, len(snap.Records)),
	}
	for _, r := range snap.Records {
		doc.Records = append(doc.Records, recordDoc{
			ID:        r.ID,
			Country:   r.Country,
			City:      r.City,
			VisitedOn: r.Date(),
			Sequence:  r.Sequence,
		})
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	body := &payload
	if s.encryptor != nil {
		sealed := &bytes.Buffer{}
		if err := s.encryptor.Encrypt(&payload, sealed); err != nil {
			return fmt.Errorf("encrypting snapshot: %w", err)
		}
		body = sealed
	}

	size := int64(body.Len())
	if err := s.blobs.Put(ctx, s.Key(owner), body, size); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

// Load returns the owner's snapshot, or nil if none exists. A snapshot
// stored under the same key for a different owner is treated as absent.
func (s *SnapshotStore) Load(ctx context.Context, owner travellog.OwnerKey) (*travellog.Snapshot, error) {
	var raw bytes.Buffer
	found, err := s.blobs.Get(ctx, s.Key(owner), &raw)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if !found {
		return nil, nil
	}

	data := raw.Bytes()
	if s.encryptor != nil {
		dec, err := s.unlock()
		if err != nil {
			return nil, err
		}
		var plain bytes.Buffer
		if err := dec.Decrypt(&raw, &plain); err != nil {
			return nil, fmt.Errorf("decrypting snapshot: %w", err)
		}
		data = plain.Bytes()
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if doc.Format != snapshotFormat {
		return nil, fmt.Errorf("unsupported snapshot format %d", doc.Format)
	}
	if doc.Owner != string(owner) {
		return nil, nil
	}

	snap := &travellog.Snapshot{
		Owner:   owner,
		SavedAt: doc.SavedAt,
		Records: make([]travellog.Record, 0, len(doc.Records)),
	}
	for _, r := range doc.Records {
		visited, err := travellog.ParseDate(r.VisitedOn)
		if err != nil {
			return nil, fmt.Errorf("decoding snapshot record %s: %w", r.ID, err)
		}
		snap.Records = append(snap.Records, travellog.Record{
			ID:        r.ID,
			Owner:     owner,
			Country:   r.Country,
			City:      r.City,
			VisitedOn: visited,
			Sequence:  r.Sequence,
		})
	}
	return snap, nil
}

func (s *SnapshotStore) unlock() (travellog.DecryptionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec != nil {
		return s.dec, nil
	}
	if s.passphrase == nil {
		return nil, fmt.Errorf("snapshot is encrypted and no passphrase is available")
	}
	pass, err := s.passphrase()
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	dec, err := s.encryptor.Unlock(pass)
	if err != nil {
		return nil, fmt.Errorf("unlocking snapshot key: %w", err)
	}
	s.dec = dec
	return dec, nil
}

// sanitize maps an owner key onto a file-name-safe string.
func sanitize(owner string) string {
	if owner == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, owner)
}
