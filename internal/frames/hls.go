package frames

import (
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SegmentWatcher tracks the newest HLS segment per watched directory so
// cameras already being recorded locally can be snapshotted from disk
// instead of re-fetching the remote stream.
type SegmentWatcher struct {
	mu      sync.RWMutex
	newest  map[string]string // dir -> newest .ts path
	mapping map[string]string // stream URL -> segment dir
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewSegmentWatcher() (*SegmentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	sw := &SegmentWatcher{
		newest:  make(map[string]string),
		mapping: make(map[string]string),
		watcher: w,
		done:    make(chan struct{}),
	}
	go sw.run()
	return sw, nil
}

// WatchStream associates a stream URL with a local segment directory.
func (s *SegmentWatcher) WatchStream(streamURL, segmentDir string) error {
	if err := s.watcher.Add(segmentDir); err != nil {
		return err
	}
	s.mu.Lock()
	s.mapping[streamURL] = segmentDir
	s.mu.Unlock()
	return nil
}

// NewestSegment returns the newest known segment file for a stream URL.
func (s *SegmentWatcher) NewestSegment(streamURL string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, ok := s.mapping[streamURL]
	if !ok {
		return "", false
	}
	seg, ok := s.newest[dir]
	return seg, ok
}

func (s *SegmentWatcher) Close() {
	close(s.done)
	s.watcher.Close()
}

func (s *SegmentWatcher) run() {
	for {
		select {
		case <-s.done:
			return
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(evt.Name, ".ts") {
				continue
			}
			s.mu.Lock()
			s.newest[filepath.Dir(evt.Name)] = evt.Name
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] SegmentWatcher: %v", err)
		}
	}
}
