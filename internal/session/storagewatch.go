package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zenportal/zenportal/internal/logging"
)

// debounce window for bursts of writes; the atomic save produces a
// create-then-rename pair we want to report once.
const storageDebounce = 200 * time.Millisecond

// StorageWatcher reports external changes to the state file, e.g. another
// zenportal instance writing it or a manual edit. It is detection only;
// there is no cross-process locking of the state file.
type StorageWatcher struct {
	path     string
	onChange func()

	fw     *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStorageWatcher watches the store's state file and invokes onChange
// after external modifications, debounced.
func NewStorageWatcher(store *StateStore, onChange func()) (*StorageWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &StorageWatcher{
		path:     store.StatePath(),
		onChange: onChange,
		fw:       fw,
		stopCh:   make(chan struct{}),
	}

	// Watch the directory, not the file: the atomic rename replaces the
	// inode, which would silently detach a file-level watch.
	if err := fw.Add(filepath.Dir(sw.path)); err != nil {
		fw.Close()
		return nil, err
	}

	sw.wg.Add(1)
	go sw.loop()
	return sw, nil
}

func (sw *StorageWatcher) loop() {
	defer sw.wg.Done()
	log := logging.ForComponent(logging.CompState)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-sw.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-sw.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != sw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(storageDebounce)
				timerC = timer.C
			} else {
				timer.Reset(storageDebounce)
			}
		case <-timerC:
			log.Debug("state_file_changed_externally", "path", sw.path)
			sw.onChange()
		case err, ok := <-sw.fw.Errors:
			if !ok {
				return
			}
			log.Warn("storage_watch_error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (sw *StorageWatcher) Close() {
	close(sw.stopCh)
	sw.fw.Close()
	sw.wg.Wait()
}
