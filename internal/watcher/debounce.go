package watcher

import (
	"sync"
	"time"
)

// debouncer holds one pending event per path and delivers it once the path
// has been quiet for delay. Operations seen in the window are merged.
type debouncer struct {
	delay time.Duration
	fire  func(Event)

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fire func(Event)) *debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &debouncer{
		delay:   delay,
		fire:    fire,
		pending: make(map[string]*pendingEvent),
	}
}

func (d *debouncer) add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if p, ok := d.pending[event.Path]; ok {
		p.event.Op |= event.Op
		p.event.Timestamp = event.Timestamp
		p.timer.Reset(d.delay)
		return
	}

	path := event.Path
	d.pending[path] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(d.delay, func() {
			d.deliver(path)
		}),
	}
}

func (d *debouncer) deliver(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	d.fire(p.event)
}

// flush delivers every pending event now.
func (d *debouncer) flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	d.mu.Unlock()

	for _, path := range paths {
		d.deliver(path)
	}
}

// stop drops pending events. Nothing is delivered after stop returns,
// except by a timer callback already past its pending check.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
}

func (d *debouncer) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
