package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"relayhub/pkg/types"
)

// FileStore keeps sessions and challenges as two JSON arrays on disk.
type FileStore struct {
	sessionPath   string
	challengePath string
	logger        zerolog.Logger
}

// NewFileStore creates the parent directories of both paths. An empty
// challengePath defaults to "<sessionPath>.challenges".
func NewFileStore(sessionPath, challengePath string, logger zerolog.Logger) (*FileStore, error) {
	if sessionPath == "" {
		return nil, errors.New("session file path is required")
	}
	if challengePath == "" {
		challengePath = sessionPath + ".challenges"
	}
	for _, p := range []string{sessionPath, challengePath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory for %s: %w", p, err)
		}
	}
	return &FileStore{
		sessionPath:   sessionPath,
		challengePath: challengePath,
		logger:        logger.With().Str("component", "filestore").Logger(),
	}, nil
}

func (f *FileStore) SessionPath() string { return f.sessionPath }
func (f *FileStore) ChallengePath() string { return f.challengePath }

func (f *FileStore) LoadSessions(_ context.Context) ([]types.SessionRecord, error) {
	return loadArray[types.SessionRecord](f.sessionPath, f.logger)
}

func (f *FileStore) LoadChallenges(_ context.Context) ([]types.ChallengeRecord, error) {
	return loadArray[types.ChallengeRecord](f.challengePath, f.logger)
}

func (f *FileStore) SaveSessions(_ context.Context, records []types.SessionRecord) error {
	if records == nil {
		records = []types.SessionRecord{}
	}
	return writeJSONAtomically(f.sessionPath, records)
}

func (f *FileStore) SaveChallenges(_ context.Context, records []types.ChallengeRecord) error {
	if records == nil {
		records = []types.ChallengeRecord{}
	}
	return writeJSONAtomically(f.challengePath, records)
}

func (f *FileStore) Close() error { return nil }

// loadArray decodes a JSON array one element at a time so a single malformed
// record does not discard the rest. A missing or empty file yields no records.
func loadArray[T any](path string, logger zerolog.Logger) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var rec T
		if err := json.Unmarshal(item, &rec); err != nil {
			logger.Warn().Err(err).Str("path", path).Int("index", i).Msg("skipping malformed record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// writeJSONAtomically writes value to a temporary file in the same
// directory, fsyncs it and renames it over path. Readers never see a partial
// write.
func writeJSONAtomically(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
