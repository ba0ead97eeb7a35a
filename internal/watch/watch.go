// Package watch implements the Watcher (spec.md §4.5): emits a lazy sequence
// of (directory, filename) pairs for create and write events, filtered by
// extension, skipping dot-files. Re-architected from the original's raw
// inotify loop (_examples/original_source/.../src/inotify/inotify.cc) onto
// the ecosystem fsnotify package per spec.md §9.
package watch

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Event is a single work-ready notification.
type Event struct {
	Dir      string
	Filename string
}

// Watcher observes a directory and emits Events over a channel.
type Watcher struct {
	dir     string
	exts    map[string]bool
	log     *logrus.Entry
	fsw     *fsnotify.Watcher
	events  chan Event
	errs    chan error
}

// New constructs a Watcher over dir, filtering by the given extensions
// (without leading dots, e.g. "wav", "pcm", "list").
func New(dir string, exts []string, log *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	w := &Watcher{
		dir:    dir,
		exts:   extSet,
		log:    log.WithField("component", "watcher"),
		fsw:    fsw,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
	}
	go w.loop()
	return w, nil
}

// Events returns the channel of work-ready events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errs returns the channel carrying a single fatal error, if the watcher
// terminates (spec.md §4.5: "fatal read failures terminate the watcher with
// a reported error"). Recoverable interruptions are swallowed internally.
func (w *Watcher) Errs() <-chan error { return w.errs }

func (w *Watcher) matches(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return w.exts[ext]
}

func (w *Watcher) loop() {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Every Create or Write notification for a matching name is
			// emitted as it arrives. There is no wait for the writer to close
			// the file, so a file created and then written, or written in
			// several chunks, produces several events.
			name := filepath.Base(ev.Name)
			if !w.matches(name) {
				continue
			}
			w.events <- Event{Dir: filepath.Dir(ev.Name), Filename: name}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// recoverable: a burst of events was coalesced, not fatal
				w.log.WithError(err).Warn("watch: event overflow, continuing")
				continue
			}
			w.log.WithError(err).Error("watch: fatal watcher error")
			select {
			case w.errs <- err:
			default:
			}
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
