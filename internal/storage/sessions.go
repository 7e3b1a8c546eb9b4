package storage

import (
	"fmt"

	"github.com/skillflow/skillflow/internal/recording"
)

// SaveSession persists a sealed recording session immutably as
// sessions/<id>.json.
func (s *Store) SaveSession(sess recording.Session) error {
	if err := writeJSONAtomic(s.sessionPath(sess.ID), sess); err != nil {
		return fmt.Errorf("storage: save session %q: %w", sess.ID, err)
	}
	return nil
}

// LoadSession reads a previously sealed session.
func (s *Store) LoadSession(id string) (recording.Session, error) {
	var sess recording.Session
	if err := readJSON(s.sessionPath(id), &sess); err != nil {
		return recording.Session{}, fmt.Errorf("storage: load session %q: %w", id, err)
	}
	return sess, nil
}
