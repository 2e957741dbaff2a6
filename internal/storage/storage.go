package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"template-backend/internal/models"
)

// sessionRecord persists the row key that the public projection hides.
type sessionRecord struct {
	ID int64 `json:"id"`
	models.Session
}

func (r sessionRecord) projection() models.Session {
	session := r.Session
	session.ID = r.ID
	session.IPAddress = cloneString(r.IPAddress)
	session.UserAgent = cloneString(r.UserAgent)
	return session
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

type dataset struct {
	NextSessionID int64                    `json:"nextSessionId"`
	NextUserID    int64                    `json:"nextUserId"`
	Sessions      map[string]sessionRecord `json:"sessions"`
	Users         map[int64]models.User    `json:"users"`
}

func newDataset() dataset {
	return dataset{
		Sessions: make(map[string]sessionRecord),
		Users:    make(map[int64]models.User),
	}
}

func (d *dataset) ensureInitialized() {
	if d.Sessions == nil {
		d.Sessions = make(map[string]sessionRecord)
	}
	if d.Users == nil {
		d.Users = make(map[int64]models.User)
	}
}

// jsonRepository keeps the dataset in memory and rewrites the backing file
// after each mutation. An empty file path keeps everything in memory.
type jsonRepository struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	closed   bool
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newJSONRepository(path string, opts ...Option) (*jsonRepository, error) {
	store := &jsonRepository{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *jsonRepository) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		s.data = newDataset()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	s.data.ensureInitialized()
	return nil
}

func (s *jsonRepository) persist() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func (s *jsonRepository) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrStorageUnavailable
	}
	return nil
}

func (s *jsonRepository) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable(ctx)
}

func (s *jsonRepository) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Session operations

func (s *jsonRepository) CreateSession(ctx context.Context, params CreateSessionParams) (models.Session, error) {
	if err := params.validate(); err != nil {
		return models.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx); err != nil {
		return models.Session{}, err
	}
	if _, exists := s.data.Sessions[params.SessionID]; exists {
		return models.Session{}, ErrSessionExists
	}

	now := s.now()
	s.data.NextSessionID++
	record := sessionRecord{
		ID: s.data.NextSessionID,
		Session: models.Session{
			SessionID: params.SessionID,
			Kind:      params.Kind,
			IPAddress: cloneString(params.IPAddress),
			UserAgent: cloneString(params.UserAgent),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	s.data.Sessions[params.SessionID] = record
	if err := s.persist(); err != nil {
		delete(s.data.Sessions, params.SessionID)
		s.data.NextSessionID--
		return models.Session{}, err
	}
	return record.projection(), nil
}

func (s *jsonRepository) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return models.Session{}, err
	}
	record, ok := s.data.Sessions[sessionID]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return record.projection(), nil
}

// User operations

func (s *jsonRepository) CreateUser(ctx context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx); err != nil {
		return models.User{}, err
	}
	for _, user := range s.data.Users {
		if user.Email == email {
			return models.User{}, ErrEmailTaken
		}
	}

	now := s.now()
	s.data.NextUserID++
	user := models.User{
		ID:        s.data.NextUserID,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		s.data.NextUserID--
		return models.User{}, err
	}
	return user, nil
}

func (s *jsonRepository) GetUser(ctx context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return models.User{}, err
	}
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (s *jsonRepository) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return models.User{}, err
	}
	for _, user := range s.data.Users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}
