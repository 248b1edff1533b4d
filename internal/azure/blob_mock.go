package azure

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

type memoryBlob struct {
	key  ReportKey
	data []byte
}

// MemoryBlobStorage keeps report PDFs in process. It backs development setups
// without a storage account, and tests.
type MemoryBlobStorage struct {
	mu     sync.RWMutex
	blobs  map[string]memoryBlob
	logger *zap.Logger
}

// NewMemoryBlobStorage creates an empty MemoryBlobStorage
func NewMemoryBlobStorage(logger *zap.Logger) *MemoryBlobStorage {
	return &MemoryBlobStorage{
		blobs:  make(map[string]memoryBlob),
		logger: logger,
	}
}

// Put stores a copy of data
func (m *MemoryBlobStorage) Put(ctx context.Context, key ReportKey, data []byte) (string, error) {
	name, err := key.BlobName()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.blobs[name] = memoryBlob{key: key, data: bytes.Clone(data)}
	m.mu.Unlock()

	m.logger.Debug("session report stored in memory", zap.String("blob_name", name), zap.Int("size_bytes", len(data)))
	return name, nil
}

// Get returns a copy of a stored PDF
func (m *MemoryBlobStorage) Get(ctx context.Context, blobName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[blobName]
	if !ok {
		return nil, model.NotFound("report blob", blobName)
	}
	return bytes.Clone(b.data), nil
}

// Delete removes a stored PDF
func (m *MemoryBlobStorage) Delete(ctx context.Context, blobName string) error {
	m.mu.Lock()
	delete(m.blobs, blobName)
	m.mu.Unlock()
	return nil
}

// List returns stored blob names under prefix, sorted
func (m *MemoryBlobStorage) List(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := []string{}
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Owner returns the user a stored report was written for
func (m *MemoryBlobStorage) Owner(blobName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[blobName]
	return b.key.UserID, ok
}
