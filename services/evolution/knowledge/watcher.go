// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits for a burst of file events
// to settle before rescanning the directory.
const watchDebounce = 200 * time.Millisecond

// startWatcher begins refreshing the index when record files appear in the
// archive directory. Other processes (or a human dropping files in) become
// visible without a restart.
func (s *Store) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	go s.watchLoop()
	return nil
}

// watchLoop batches create and rename events behind a debounce window so a
// burst of writes costs one rescan. Atomic rewrites land as a rename onto
// the final path, so both write paths are covered.
func (s *Store) watchLoop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.refresh(); err != nil {
				s.logger.Warn("archive index refresh failed", "error", err)
				continue
			}
			s.logger.Debug("archive index refreshed", "records", s.Len())

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("archive watcher error", "error", err)
		}
	}
}
