// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package certificate

import (
	"context"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/fsnotify/fsnotify"
)

// WatchFile calls onChange after writes to one of the files, at most once per delay.
// Watching stops when the context is done.
func WatchFile(ctx context.Context, delay time.Duration, onChange func(), files ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := watcher.Add(file); err != nil {
			watcher.Close()
			return err
		}
	}
	logger := log.FromContext(ctx)
	update := make(chan bool, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case update <- true:
					logger.WithField("file", event.Name).Debug("Detected file change, scheduling update")
					time.AfterFunc(delay, func() {
						onChange()
						<-update
					})
				default:
					// Debounce
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Error watching file")
			}
		}
	}()
	return nil
}
