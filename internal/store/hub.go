package store

import (
	"context"
	"sync"
)

type watcher struct {
	kick chan struct{}
	done chan struct{}
	once sync.Once
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// Hub fans change notifications out to watchers. Each watcher runs its own
// goroutine and re-reads the latest state on every kick, so bursts coalesce
// and a slow subscriber never blocks a writer.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	wg       sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*watcher]struct{})}
}

// Watch calls deliver once right away and again after every Notify(key),
// until stop is called or ctx is done.
func (h *Hub) Watch(ctx context.Context, key string, deliver func()) (stop func()) {
	w := &watcher{
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	w.kick <- struct{}{}

	h.mu.Lock()
	set, ok := h.watchers[key]
	if !ok {
		set = make(map[*watcher]struct{})
		h.watchers[key] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.remove(key, w)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-w.kick:
				select {
				case <-w.done:
					return
				default:
				}
				deliver()
			}
		}
	}()
	return w.stop
}

// Notify wakes every watcher of key. Never blocks.
func (h *Hub) Notify(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[key] {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Count returns the number of live watchers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.watchers {
		n += len(set)
	}
	return n
}

// Close stops every watcher and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	for _, set := range h.watchers {
		for w := range set {
			w.stop()
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(key string, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[key]
	delete(set, w)
	if len(set) == 0 {
		delete(h.watchers, key)
	}
}
