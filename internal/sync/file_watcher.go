package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterCallback returns true for paths whose events are dropped
type FilterCallback func(path string) bool

// FileWatcher reports changes below a directory. Bursts of events for the
// same path are debounced into one.
type FileWatcher struct {
	watchDir        string
	events          chan notify.EventInfo
	rawEvents       chan notify.EventInfo
	done            chan struct{}
	wg              sync.WaitGroup
	pending         map[string]notify.EventInfo
	timers          map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration
	filter          FilterCallback
	logger          *slog.Logger
}

func NewFileWatcher(watchDir string, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		watchDir:        watchDir,
		done:            make(chan struct{}),
		pending:         make(map[string]notify.EventInfo),
		timers:          make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
		logger:          logger,
	}
}

func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths must be called before Start
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.logger.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan notify.EventInfo, eventBufferSize)

	recursive := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursive, fw.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	close(fw.done)
	if fw.rawEvents != nil {
		notify.Stop(fw.rawEvents)
	}
	fw.wg.Wait()
	fw.logger.Info("file watcher stopped")
}

// Events is closed after Stop or when the start context ends
func (fw *FileWatcher) Events() <-chan notify.EventInfo {
	return fw.events
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		fw.debounceMu.Lock()
		for p, timer := range fw.timers {
			timer.Stop()
			delete(fw.timers, p)
			delete(fw.pending, p)
		}
		fw.debounceMu.Unlock()
		fw.wg.Done()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			if fw.filter != nil && fw.filter(event.Path()) {
				continue
			}
			fw.debounce(event)
		}
	}
}

func (fw *FileWatcher) debounce(event notify.EventInfo) {
	p := event.Path()

	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, ok := fw.timers[p]; ok {
		timer.Stop()
	}
	fw.pending[p] = event
	fw.timers[p] = time.AfterFunc(fw.debounceTimeout, func() { fw.flush(p) })
}

func (fw *FileWatcher) flush(p string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	event, ok := fw.pending[p]
	if !ok {
		return
	}
	delete(fw.pending, p)
	delete(fw.timers, p)

	select {
	case <-fw.done:
	case fw.events <- event:
		fw.logger.Debug("file watcher", "event", event.Event(), "path", p)
	default:
		fw.logger.Warn("file watcher dropped event", "reason", "channel full", "path", p)
	}
}
