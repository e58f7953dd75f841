package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// StoreConfig configures an ArtifactStore.
type StoreConfig struct {
	Path string
	// CacheSize > 0 keeps up to that many decoded artifacts, keyed by file
	// identity. Zero means every Load reads the file again.
	CacheSize int
	Watch     bool
	Options   LoadOptions
}

type artifactKey struct {
	path    string
	size    int64
	modTime int64
}

// ArtifactStore hands out the regressor stored at a fixed path.
type ArtifactStore struct {
	config StoreConfig
	logger *zap.Logger

	cache   *lru.Cache[artifactKey, Regressor]
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

func NewArtifactStore(config StoreConfig, logger *zap.Logger) (*ArtifactStore, error) {
	if config.Path == "" {
		return nil, errors.New("model path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &ArtifactStore{
		config: config,
		logger: logger.Named("artifacts"),
		done:   make(chan struct{}),
	}

	if config.CacheSize > 0 {
		cache, err := lru.New[artifactKey, Regressor](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create model cache: %w", err)
		}
		store.cache = cache
	}

	if config.Watch {
		if err := store.startWatcher(); err != nil {
			store.logger.Warn("artifact watch disabled", zap.String("path", config.Path), zap.Error(err))
		}
	}
	return store, nil
}

func (s *ArtifactStore) Path() string {
	return s.config.Path
}

// Load returns the regressor currently on disk.
func (s *ArtifactStore) Load() (Regressor, error) {
	if s.cache == nil {
		return LoadModel(s.config.Path, s.config.Options)
	}

	info, err := os.Stat(s.config.Path)
	if err != nil {
		return nil, err
	}
	key := artifactKey{path: s.config.Path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if model, ok := s.cache.Get(key); ok {
		return model, nil
	}

	model, err := LoadModel(s.config.Path, s.config.Options)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, model)
	return model, nil
}

func (s *ArtifactStore) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return err
}

// startWatcher watches the artifact's directory rather than the file so that
// atomic replacements (write to temp, rename over) are seen too.
func (s *ArtifactStore) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.config.Path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watch()
	return nil
}

func (s *ArtifactStore) watch() {
	defer s.wg.Done()

	target := filepath.Clean(s.config.Path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Info("model artifact changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			if s.cache != nil {
				s.cache.Purge()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}
