package objectstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryBackend is a versioned in-memory bucket used by tests and local
// development.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]memoryVersion // live versions, oldest first
	seq     int
}

type memoryVersion struct {
	versionID string
	data      []byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]memoryVersion)}
}

func (b *MemoryBackend) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = append(b.objects[key], memoryVersion{
		versionID: "v" + strconv.Itoa(b.seq),
		data:      cp,
	})
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions := b.objects[key]
	if len(versions) == 0 {
		return nil, NoSuchKey.New("%s", key)
	}
	latest := versions[len(versions)-1]
	cp := make([]byte, len(latest.data))
	copy(cp, latest.data)
	return cp, nil
}

func (b *MemoryBackend) Size(_ context.Context, key string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions := b.objects[key]
	if len(versions) == 0 {
		return 0, NoSuchKey.New("%s", key)
	}
	return int64(len(versions[len(versions)-1].data)), nil
}

func (b *MemoryBackend) sortedKeys(prefix string) []string {
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (b *MemoryBackend) List(_ context.Context, prefix, startAfter string, fn func(key string) error) error {
	b.mu.RLock()
	keys := b.sortedKeys(prefix)
	b.mu.RUnlock()
	for _, key := range keys {
		if startAfter != "" && key <= startAfter {
			continue
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) ListVersions(_ context.Context, prefix string, fn func(key, versionID string) error) error {
	b.mu.RLock()
	keys := b.sortedKeys(prefix)
	versions := make(map[string][]memoryVersion, len(keys))
	for _, key := range keys {
		versions[key] = append([]memoryVersion(nil), b.objects[key]...)
	}
	b.mu.RUnlock()
	for _, key := range keys {
		for _, v := range versions[key] {
			if err := fn(key, v.versionID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBackend) DeleteVersion(_ context.Context, key, versionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	versions := b.objects[key]
	for i, v := range versions {
		if v.versionID == versionID {
			b.objects[key] = append(versions[:i:i], versions[i+1:]...)
			if len(b.objects[key]) == 0 {
				delete(b.objects, key)
			}
			return nil
		}
	}
	return DeleteFailed.New("no version %s of %s", versionID, key)
}

func (b *MemoryBackend) DeleteManyVersions(_ context.Context, pairs []KeyVersion) (int, error) {
	deleted := 0
	var failed []string
	for _, kv := range pairs {
		if err := b.DeleteVersion(context.Background(), kv.Key, kv.VersionID); err != nil {
			failed = append(failed, kv.Key)
			continue
		}
		deleted++
	}
	if len(failed) > 0 {
		return deleted, DeleteFailed.New("failed deletes: %s", strings.Join(failed, ", "))
	}
	return deleted, nil
}
