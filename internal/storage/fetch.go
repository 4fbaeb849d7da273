package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fetcher downloads several objects in parallel into one directory.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	dir         string
}

// NewFetcher creates a fetcher writing into dir with at most concurrency
// downloads in flight.
func NewFetcher(storage ObjectStorage, concurrency int, dir string) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{storage: storage, concurrency: concurrency, dir: dir}
}

// FetchAll downloads every object and returns objectPath -> localPath. The
// first failure cancels the remaining downloads and is returned.
func (f *Fetcher) FetchAll(ctx context.Context, objectPaths []string) (map[string]string, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	result := make(map[string]string, len(objectPaths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, objectPath := range objectPaths {
		g.Go(func() error {
			local := f.localPath(i, objectPath)
			if err := f.storage.Download(gctx, objectPath, local); err != nil {
				return fmt.Errorf("fetch %s: %w", objectPath, err)
			}
			mu.Lock()
			result[objectPath] = local
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// localPath flattens the object path into a file name inside dir. The index
// prefix keeps "a/b" and "a_b" apart.
func (f *Fetcher) localPath(i int, objectPath string) string {
	name := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "_")
	return filepath.Join(f.dir, fmt.Sprintf("%03d_%s", i, name))
}
