package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"cybermesh/node/pkg/p2p/outbound"
)

var peersBucket = []byte("peers")

// PeerRecord is the persisted form of a peer book entry.
type PeerRecord struct {
	Addr       outbound.PeerAddress `json:"-"`
	PeerID     string               `json:"peer_id,omitempty"`
	LastSeen   time.Time            `json:"last_seen"`
	LatencyEMA time.Duration        `json:"latency_ema"`
	Score      float64              `json:"score"`
}

// PeerStore persists the peer book across restarts.
type PeerStore interface {
	LoadPeers() ([]PeerRecord, error)
	SavePeers(records []PeerRecord) error
	Close() error
}

// BoltPeerStore implements PeerStore using bbolt. Keys are the binary form
// of the peer address.
type BoltPeerStore struct {
	db *bolt.DB
}

// OpenPeerStore opens/creates the peer book at path.
func OpenPeerStore(path string) (*BoltPeerStore, error) {
	if path == "" {
		return nil, errors.New("peer store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("peer store: mkdir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("peer store: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("peer store: init bucket: %w", err)
	}
	return &BoltPeerStore{db: db}, nil
}

func (s *BoltPeerStore) LoadPeers() ([]PeerRecord, error) {
	var out []PeerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(peersBucket)
		return b.ForEach(func(k, v []byte) error {
			var rec PeerRecord
			if err := rec.Addr.UnmarshalBinary(k); err != nil {
				return fmt.Errorf("peer store: bad key: %w", err)
			}
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("peer store: decode %s: %w", rec.Addr, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// SavePeers replaces the stored peer set with records.
func (s *BoltPeerStore) SavePeers(records []PeerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(peersBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(peersBucket)
		if err != nil {
			return err
		}
		for _, rec := range records {
			key, err := rec.Addr.MarshalBinary()
			if err != nil {
				return fmt.Errorf("peer store: encode key %s: %w", rec.Addr, err)
			}
			val, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("peer store: encode %s: %w", rec.Addr, err)
			}
			if err := b.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltPeerStore) Close() error {
	return s.db.Close()
}
