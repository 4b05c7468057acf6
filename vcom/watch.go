package vcom

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// devWatcher watches the parent directory of a paired-serial device node
// and reports when that node disappears, so a USB-serial unplug is
// detected immediately rather than on the next failed write.
type devWatcher struct {
	watcher *fsnotify.Watcher
	gone    chan struct{}
}

// watchDeviceRemoval starts watching path's parent directory. The returned
// devWatcher's gone channel is closed once path is removed or renamed away;
// call stop to release the underlying watcher.
func watchDeviceRemoval(path string) (*devWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	dw := &devWatcher{watcher: watcher, gone: make(chan struct{})}

	go func() {
		defer close(dw.gone)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return dw, nil
}

func (d *devWatcher) stop() {
	d.watcher.Close()
}
