package build

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// HashProvider hashes source files with a two-tier cache: a stat metadata
// key (path, mtime, size) maps to the content hash, so unchanged files are
// not re-read while watching.
type HashProvider struct {
	cache *BuildCache
}

// NewHashProvider creates a new hash provider with the specified cache.
func NewHashProvider(cache *BuildCache) *HashProvider {
	return &HashProvider{cache: cache}
}

func metadataKey(path string, info os.FileInfo) string {
	return fmt.Sprintf("stat:%s:%d:%d", path, info.ModTime().UnixNano(), info.Size())
}

// HashFile returns the content hash of the file at path, consulting the
// metadata cache before opening the file.
func (hp *HashProvider) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if hash, found := hp.cache.GetHash(metadataKey(path, info)); found {
		return hash, nil
	}

	_, hash, err := hp.ReadFile(path)
	return hash, err
}

// ReadFile reads the file at path and returns its bytes and content hash,
// recording the hash under the file's metadata key.
func (hp *HashProvider) ReadFile(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	hash := ContentHash(content)
	hp.cache.SetHash(metadataKey(path, info), hash)

	return content, hash, nil
}

// HashBatch hashes several files concurrently. Files that cannot be read
// are omitted from the result.
func (hp *HashProvider) HashBatch(paths []string) map[string]string {
	results := make(map[string]string, len(paths))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(8)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			hash, err := hp.HashFile(path)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[path] = hash
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Stats returns hash cache statistics.
func (hp *HashProvider) Stats() CacheStats {
	return hp.cache.Stats()
}
