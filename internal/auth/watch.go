package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"eventsub-relay/internal/logging"
)

const defaultSettleDelay = 200 * time.Millisecond

// FileWatcher reloads the token file when another process rewrites it, e.g.
// "eventsub-relay --authorize" run while the relay is up, and installs the
// new token in the Store.
type FileWatcher struct {
	File           TokenFile
	Store          *Store
	Validator      Validator
	RequiredScopes []ScopeRequirement
	Logger         *logging.Logger
	SettleDelay    time.Duration
}

func (w *FileWatcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.File.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch token directory %s: %w", dir, err)
	}
	w.Logger.Debugf("watching token file: %s", w.File.Path)

	settle := w.SettleDelay
	if settle <= 0 {
		settle = defaultSettleDelay
	}
	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	target := filepath.Clean(w.File.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.Logger.Debugf("fsnotify event: op=%s path=%s", event.Op.String(), event.Name)
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("token file watcher error", logging.Field("error", err))
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *FileWatcher) reload(ctx context.Context) {
	stored, err := w.File.Load()
	if err != nil {
		w.Logger.Debug("token file not readable", logging.Field("error", err))
		return
	}
	if stored.AccessToken == "" || stored.AccessToken == w.Store.Current().AccessToken {
		return
	}
	id, err := w.Validator.Validate(ctx, stored.AccessToken)
	if err != nil {
		w.Logger.Warn("ignoring rewritten token file", logging.Field("error", err))
		return
	}
	cred := Credential{AccessToken: stored.AccessToken, RefreshToken: stored.RefreshToken}.withIdentity(id)
	if err := cred.RequireScopes(w.RequiredScopes); err != nil {
		w.Logger.Warn("ignoring rewritten token file", logging.Field("error", err))
		return
	}
	if err := w.Store.Replace(cred); err != nil {
		w.Logger.Warn("failed to install rewritten token", logging.Field("error", err))
		return
	}
	w.Logger.Info("token file changed, using new credential",
		logging.Field("login", cred.Login),
		logging.Field("expires_at", cred.ExpiresAt),
	)
}
