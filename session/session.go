// Package session stores the record produced by the join flow in a small
// PebbleDB key-value store, one record per client instance.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/google/uuid"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
)

// ErrMissingSession means no prior join was stored (or the record is
// unreadable). Callers send the user back to the entry point.
var ErrMissingSession = errors.New("no stored session")

var recordKey = []byte("session/current")

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Load returns the stored session. A missing or malformed record both
// surface as ErrMissingSession; there is no partial recovery.
func (s *Store) Load() (protocol.Session, error) {
	val, closer, err := s.db.Get(recordKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return protocol.Session{}, ErrMissingSession
	}
	if err != nil {
		return protocol.Session{}, err
	}
	defer func() { _ = closer.Close() }()

	var sess protocol.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return protocol.Session{}, ErrMissingSession
	}
	if sess.Username == "" || sess.RoomID == "" {
		return protocol.Session{}, ErrMissingSession
	}
	return sess, nil
}

// Save persists the session, minting a record id when the caller did not
// provide one. The id is only used as a stable log field across reconnects.
func (s *Store) Save(sess protocol.Session) (protocol.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	val, err := json.Marshal(sess)
	if err != nil {
		return protocol.Session{}, err
	}
	if err := s.db.Set(recordKey, val, pebble.Sync); err != nil {
		return protocol.Session{}, err
	}
	return sess, nil
}

func (s *Store) Clear() error {
	return s.db.Delete(recordKey, pebble.Sync)
}

func (s *Store) Close() error {
	return s.db.Close()
}
