package catalog

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/querymend/querymend/core/logger"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the catalog whenever its file changes, until ctx is
// cancelled. Write bursts are debounced so editors that save in several
// writes trigger a single reload. A failed reload keeps the previous
// sources and is logged.
func (c *FileCatalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return err
	}

	log := logger.New("catalog")
	log.Infof("Watching %s for changes...", c.path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(reloadDebounce, func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})
				}
			case <-reload:
				if err := c.Reload(); err != nil {
					log.PrintError("Catalog reload failed, keeping previous sources", err)
					continue
				}
				log.Infof("Catalog reloaded from %s", c.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.PrintError("Catalog watcher error", err)
			}
		}
	}()
	return nil
}
