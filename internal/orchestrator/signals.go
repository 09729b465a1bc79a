package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// KillFile is the name of the stop signal file inside the signals directory.
const KillFile = "kill"

// ErrStopRequested is the cancellation cause when an operator stops a run.
var ErrStopRequested = errors.New("stop requested by operator")

// pollInterval backs up the watcher in case an event is missed.
const pollInterval = time.Second

// StopWatcher cancels a context when the kill file appears in the signals
// directory. `lakeforge stop` writes that file from another process.
type StopWatcher struct {
	dir     string
	cancel  context.CancelCauseFunc
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once
}

// WatchStop clears any stale kill file and returns a context that is
// cancelled with ErrStopRequested once a new one is written. Close the
// watcher when the run is over.
func WatchStop(ctx context.Context, signalsDir string, logger zerolog.Logger) (context.Context, *StopWatcher, error) {
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create signals directory: %w", err)
	}
	if err := ClearSignals(signalsDir); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	sw := &StopWatcher{
		dir:    signalsDir,
		cancel: cancel,
		logger: logger,
		done:   make(chan struct{}),
	}

	// Without a watcher the poller alone still notices the file.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug().Err(err).Msg("fsnotify unavailable, polling for stop signal")
	} else if err := watcher.Add(signalsDir); err != nil {
		logger.Debug().Err(err).Msg("cannot watch signals directory, polling for stop signal")
		watcher.Close()
	} else {
		sw.watcher = watcher
	}

	sw.wg.Add(1)
	go sw.watch()
	return ctx, sw, nil
}

func (sw *StopWatcher) watch() {
	defer sw.wg.Done()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if sw.watcher != nil {
		events = sw.watcher.Events
		errs = sw.watcher.Errors
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) == KillFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.trigger()
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			sw.logger.Debug().Err(err).Msg("signals watcher error")
		case <-ticker.C:
			if sw.killPresent() {
				sw.trigger()
				return
			}
		}
	}
}

func (sw *StopWatcher) killPresent() bool {
	_, err := os.Stat(filepath.Join(sw.dir, KillFile))
	return err == nil
}

func (sw *StopWatcher) trigger() {
	sw.logger.Warn().Str("dir", sw.dir).Msg("stop signal received")
	sw.cancel(ErrStopRequested)
}

// Close stops watching and releases the derived context.
func (sw *StopWatcher) Close() error {
	var err error
	sw.closeOne.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			err = sw.watcher.Close()
		}
		sw.wg.Wait()
		sw.cancel(context.Canceled)
	})
	return err
}

// SendStop writes the kill file, asking a running pipeline to stop.
func SendStop(signalsDir string) error {
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	path := filepath.Join(signalsDir, KillFile)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("write stop signal: %w", err)
	}
	return nil
}

// ClearSignals removes any pending kill file.
func ClearSignals(signalsDir string) error {
	err := os.Remove(filepath.Join(signalsDir, KillFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stop signal: %w", err)
	}
	return nil
}
