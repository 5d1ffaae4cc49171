package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchSecretFile loads the HMAC secret from path and reloads it whenever the
// file changes, until ctx is done. Secret rotation then needs no restart:
// deployments mount the secret as a file and rewrite it in place.
//
// The parent directory is watched, not the file itself, because most secret
// managers replace the file atomically (write temp + rename) which would drop
// a direct file watch.
func WatchSecretFile(ctx context.Context, path string, auth *Authenticator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := loadSecret(path, auth); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("secret watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("secret watcher: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := loadSecret(path, auth); err != nil {
					logger.Error("webhook secret reload failed", "path", path, "error", err)
					continue
				}
				logger.Info("webhook secret reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("secret watcher error", "error", err)
			}
		}
	}()

	return nil
}

func loadSecret(path string, auth *Authenticator) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read secret file: %w", err)
	}
	secret := bytes.TrimSpace(data)
	if len(secret) == 0 {
		return fmt.Errorf("secret file %s is empty", path)
	}
	auth.SetSecret(secret)
	return nil
}
