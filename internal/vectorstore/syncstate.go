package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const metadataDirName = "metadata"

// SyncState is the per-collection watermark file
// <root>/metadata/<collection>_sync.json.
type SyncState struct {
	LastSyncDate   time.Time
	CollectionName string
	ModelID        string
}

type syncStateFile struct {
	LastSyncDate   string `json:"last_sync_date"`
	CollectionName string `json:"collection_name"`
	ModelID        string `json:"model_id"`
}

// legacyLayouts are accepted on read for files written without a zone.
var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseSyncDate(s string) (time.Time, error) {
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized last_sync_date %q", s)
}

// SyncStatePath returns the watermark file of collection under root.
func SyncStatePath(root, collection string) string {
	return filepath.Join(root, metadataDirName, collection+"_sync.json")
}

// ReadSyncState loads the state at path. ok is false when the file does not
// exist, which means the collection was never synced.
func ReadSyncState(path string) (st SyncState, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("reading sync state: %w", err)
	}
	var f syncStateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return SyncState{}, false, fmt.Errorf("decoding sync state %s: %w", path, err)
	}
	t, err := parseSyncDate(f.LastSyncDate)
	if err != nil {
		return SyncState{}, false, fmt.Errorf("decoding sync state %s: %w", path, err)
	}
	return SyncState{LastSyncDate: t, CollectionName: f.CollectionName, ModelID: f.ModelID}, true, nil
}

// WriteSyncState persists st at path, creating the metadata directory.
func WriteSyncState(path string, st SyncState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	data, err := json.Marshal(syncStateFile{
		LastSyncDate:   st.LastSyncDate.Format(time.RFC3339Nano),
		CollectionName: st.CollectionName,
		ModelID:        st.ModelID,
	})
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}
	return writeFileAtomic(path, data)
}

// RemoveSyncState deletes the file at path; a missing file is not an error.
func RemoveSyncState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing sync state: %w", err)
	}
	return nil
}

// writeFileAtomic writes through a temp file and rename so readers never
// observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
