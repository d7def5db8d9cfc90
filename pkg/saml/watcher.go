package saml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/dashborion/pkg/observability"
)

// WatchMetadata reloads the engine whenever the IdP metadata file changes,
// so certificate rotation at the IdP does not require a restart. Blocks
// until the context is canceled.
//
// The parent directory is watched rather than the file itself: most rollout
// tools (and Kubernetes ConfigMap mounts) replace the file via rename, which
// drops a watch placed directly on the path.
func WatchMetadata(ctx context.Context, engine *Engine, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create metadata watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch metadata directory: %w", err)
	}

	target := filepath.Clean(path)
	logger.WithField("path", target).Info("watching IdP metadata for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			data, err := os.ReadFile(target)
			if err != nil {
				logger.WithError(err).Error("failed to read updated IdP metadata")
				continue
			}
			if err := engine.Reload(data); err != nil {
				// Keep serving with the previous provider; a half-written
				// file will fire another event when the write completes.
				logger.WithError(err).Error("failed to reload IdP metadata")
				continue
			}
			logger.Info("IdP metadata reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("metadata watcher error")
		}
	}
}
