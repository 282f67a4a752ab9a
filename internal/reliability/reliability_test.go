package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/artifacts"
	testingpkg "github.com/aristath/symphony/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestArchiveCycle(t *testing.T) {
	store := newMemoryStore()
	svc := NewArchiveService(store, nil, t.TempDir(), "/prod/", zerolog.Nop())

	record := &artifacts.CycleRecord{
		ID:        "c-1",
		Status:    artifacts.StatusCompleted,
		StartedAt: time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC),
		Target:    allocation.Single("SPY"),
	}
	key, err := svc.ArchiveCycle(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "prod/cycles/2024/03/01/c-1.json", key)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(store.objects[key], &decoded))
	assert.Equal(t, "c-1", decoded["id"])
	assert.Equal(t, "completed", decoded["status"])

	store.uploadErr = errors.New("unavailable")
	_, err = svc.ArchiveCycle(context.Background(), record)
	assert.Error(t, err)
}

func TestBackupDatabases(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.History)

	store := newMemoryStore()
	svc := NewArchiveService(store, map[string]*database.DB{database.History: db}, t.TempDir(), "", zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	key, err := svc.BackupDatabases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "symphony-backup-2024-03-01-123000.tar.gz", key)

	gz, err := gzip.NewReader(bytes.NewReader(store.objects[key]))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	var meta BackupMetadata
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
		if h.Name == "backup-metadata.json" {
			require.NoError(t, json.NewDecoder(tr).Decode(&meta))
		}
	}
	assert.Equal(t, []string{"history.db", "backup-metadata.json"}, names)
	require.Len(t, meta.Databases, 1)
	assert.True(t, strings.HasPrefix(meta.Databases[0].Checksum, "sha256:"))
	assert.Positive(t, meta.Databases[0].SizeBytes)
}

func TestRotateOldBackups(t *testing.T) {
	store := newMemoryStore()
	svc := NewArchiveService(store, nil, t.TempDir(), "", zerolog.Nop())
	now := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for _, days := range []int{1, 2, 40, 50, 60} {
		key := backupPrefix + now.AddDate(0, 0, -days).Format(backupTimeLayout) + backupSuffix
		store.objects[key] = []byte("x")
	}
	store.objects["symphony-backup-garbage.tar.gz"] = []byte("x")

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))

	deleted, err := svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Len(t, store.keys(), 4)

	deleted, err = svc.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMaintenanceJob(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: filepath.Join(dir, "artifacts.db"), Name: database.Artifacts, Profile: database.ProfileLedger})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	job := NewMaintenanceJob(map[string]*database.DB{database.Artifacts: db}, dir, zerolog.Nop())
	job.minFreeBytes = 0
	assert.Equal(t, "database_maintenance", job.Name())
	assert.NoError(t, job.Run())

	job.minFreeBytes = ^uint64(0)
	assert.Error(t, job.Run())
}

func TestBackupJob(t *testing.T) {
	store := newMemoryStore()
	svc := NewArchiveService(store, map[string]*database.DB{}, t.TempDir(), "", zerolog.Nop())
	job := NewBackupJob(svc, 30, zerolog.Nop())

	assert.Equal(t, "database_backup", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, store.keys(), 1)

	store.uploadErr = errors.New("down")
	assert.Error(t, job.Run())
}
