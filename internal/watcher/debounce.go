package watcher

import (
	"os"
	"sync"
	"time"
)

// pendingChange tracks the debounce timer of one path.
type pendingChange struct {
	timer   *time.Timer
	seq     uint64
	created bool
	renamed bool
}

// Debouncer collapses bursts of events per path. Each path has its own
// timer; a new event for a path restarts that path's timer and supersedes
// the pending one. When a timer fires, the path is stat'ed once and a
// single ChangeEvent describing its final state is emitted.
type Debouncer struct {
	delay   time.Duration
	output  chan ChangeEvent
	done    chan struct{}
	pending map[string]*pendingChange
	seq     uint64
	stopped bool
	mutex   sync.Mutex
}

// NewDebouncer creates a debouncer emitting on a channel with the given
// buffer size.
func NewDebouncer(delay time.Duration, buffer int) *Debouncer {
	return &Debouncer{
		delay:   delay,
		output:  make(chan ChangeEvent, buffer),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingChange),
	}
}

// Output returns the channel of settled events.
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}

// Add records an event for its path and restarts the path's timer.
func (d *Debouncer) Add(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}

	p, ok := d.pending[event.Path]
	if ok {
		p.timer.Stop()
	} else {
		p = &pendingChange{}
		d.pending[event.Path] = p
	}
	p.created = p.created || event.Type == EventTypeCreated
	p.renamed = p.renamed || event.Type == EventTypeRenamed

	d.seq++
	seq := d.seq
	p.seq = seq
	path := event.Path
	p.timer = time.AfterFunc(d.delay, func() { d.fire(path, seq) })
}

// Pending returns the number of paths waiting on a timer.
func (d *Debouncer) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.pending)
}

// Stop cancels every pending timer. Events not yet emitted are dropped.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	close(d.done)
}

func (d *Debouncer) fire(path string, seq uint64) {
	d.mutex.Lock()
	p, ok := d.pending[path]
	if !ok || p.seq != seq {
		// superseded by a later event
		d.mutex.Unlock()
		return
	}
	delete(d.pending, path)
	d.mutex.Unlock()

	event := ChangeEvent{Path: path, Type: EventTypeModified}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		event.Type = EventTypeDeleted
	case p.created || p.renamed:
		event.Type = EventTypeCreated
	}
	if err == nil {
		event.ModTime = info.ModTime()
		event.Size = info.Size()
	}

	select {
	case d.output <- event:
	case <-d.done:
	}
}
