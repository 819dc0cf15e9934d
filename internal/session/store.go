package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"clawgate/internal/logging"
)

var bucketSessions = []byte("conversation_sessions")

// Session maps a client conversation id onto the backend session that holds
// its history.
type Session struct {
	ConversationID   string    `json:"conversation_id"`
	BackendSessionID string    `json:"backend_session_id"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
}

// Store persists conversation mappings in bbolt behind a load-once cache.
// Lookups are answered from memory; every mutation writes through. Persist
// failures are logged and otherwise ignored, the in-memory mapping stays
// authoritative for the life of the process.
type Store struct {
	db     *bolt.DB
	logger logging.Logger

	mu     sync.Mutex
	cache  map[string]*Session
	loaded bool
}

func Open(path string, logger logging.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session db path is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger, cache: map[string]*Session{}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the mapping for a conversation, if one exists.
func (s *Store) Get(conversationID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	session, ok := s.cache[conversationID]
	if !ok {
		return nil, false
	}
	return cloneSession(session), true
}

// GetOrCreate returns the existing mapping or creates one with a fresh
// backend session id. The second return reports whether it was created.
func (s *Store) GetOrCreate(conversationID, model string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	if existing, ok := s.cache[conversationID]; ok {
		return cloneSession(existing), false
	}
	now := time.Now().UTC()
	session := &Session{
		ConversationID:   conversationID,
		BackendSessionID: uuid.NewString(),
		Model:            model,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
	s.cache[conversationID] = session
	s.persist(session)
	return cloneSession(session), true
}

// Touch bumps the last-used timestamp of an existing mapping.
func (s *Store) Touch(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	session, ok := s.cache[conversationID]
	if !ok {
		return
	}
	session.LastUsedAt = time.Now().UTC()
	s.persist(session)
}

// Delete removes a mapping. Called when the backend rejects a resume so the
// next request starts a fresh session.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	if _, ok := s.cache[conversationID]; !ok {
		return
	}
	delete(s.cache, conversationID)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(conversationID))
	})
	if err != nil {
		s.logger.Warn("failed to delete session mapping", logging.F("conversation_id", conversationID), logging.F("error", err))
	}
}

// Cleanup removes mappings unused for longer than maxAge and returns how
// many were dropped.
func (s *Store) Cleanup(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	cutoff := time.Now().UTC().Add(-maxAge)
	var expired []string
	for id, session := range s.cache {
		if session.LastUsedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.cache, id)
	}
	if len(expired) > 0 {
		err := s.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketSessions)
			for _, id := range expired {
				if err := bucket.Delete([]byte(id)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to persist session cleanup", logging.F("error", err))
		}
	}
	return len(expired)
}

// All returns every mapping, newest first.
func (s *Store) All() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	sessions := make([]*Session, 0, len(s.cache))
	for _, session := range s.cache {
		sessions = append(sessions, cloneSession(session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUsedAt.After(sessions[j].LastUsedAt)
	})
	return sessions
}

// ensureLoaded reads the whole bucket into the cache once. Callers hold mu.
func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(key, value []byte) error {
			var session Session
			if err := json.Unmarshal(value, &session); err != nil {
				s.logger.Warn("skipping corrupt session record", logging.F("conversation_id", string(key)))
				return nil
			}
			s.cache[session.ConversationID] = &session
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("failed to load session mappings", logging.F("error", err))
	}
}

// persist writes one record. Callers hold mu.
func (s *Store) persist(session *Session) {
	data, err := json.Marshal(session)
	if err != nil {
		s.logger.Warn("failed to encode session mapping", logging.F("conversation_id", session.ConversationID), logging.F("error", err))
		return
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(session.ConversationID), data)
	})
	if err != nil {
		s.logger.Warn("failed to persist session mapping", logging.F("conversation_id", session.ConversationID), logging.F("error", err))
	}
}

func cloneSession(session *Session) *Session {
	clone := *session
	return &clone
}
