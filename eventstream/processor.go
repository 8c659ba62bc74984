// Package eventstream implements a high-throughput event ingestion
// pipeline: a lock-free ring buffer absorbs bursts from any number of
// producers, a single consumer goroutine drains it into fixed-size
// batches, and a worker pool hands each batch to a caller-supplied
// callback without blocking ingestion. Along the way it maintains an
// approximate per-channel frequency table and a sliding-window unique-user
// estimate, both sized independently of the number of distinct
// users/channels seen.
package eventstream

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"engagehub.dev/analytics/internal/cms"
	"engagehub.dev/analytics/internal/hyperloglog"
	"engagehub.dev/analytics/internal/ring"
	"engagehub.dev/analytics/internal/workerpool"
)

const (
	windowSpanSeconds = 3600
	bucketSpanSeconds = 60

	channelFrequencyWidth = 2048
	channelFrequencyDepth = 4
	channelFrequencySeed  = 0x1234_5678_9abc_def0

	uniqueUserPrecision = 12

	dataPollInterval = 5 * time.Millisecond
)

type hllWindow struct {
	windowStart int64
	sketch      *hyperloglog.HLL
}

// Processor is an event stream engine: producers call PushEvent from any
// number of goroutines, a dedicated consumer goroutine drains and batches
// events, and a worker pool delivers batches to the registered flush
// callback. Processor must be created with New and released with Close.
type Processor struct {
	batchSize     int
	flushInterval time.Duration
	timeSource    func() int64

	buffer *ring.Ring[Event]
	pool   *workerpool.Pool

	callbackMu sync.Mutex
	callback   func([]Event)

	running      atomic.Bool
	consumerDone chan struct{}
	dataSignal   chan struct{}

	totalProcessed atomic.Uint64
	eventsDropped  atomic.Uint64

	channelFrequency *cms.CMS

	statsMu       sync.Mutex
	windows       []hllWindow
	channelCounts map[string]uint64

	batchMu      sync.Mutex
	pendingBatch []Event

	flushMu        sync.Mutex
	flushCond      *sync.Cond
	flushRequested atomic.Bool
	lastFlushTime  time.Time

	pendingFlushTasks atomic.Int64
	pendingMu         sync.Mutex
	pendingCond       *sync.Cond

	drainMu   sync.Mutex
	drainCond *sync.Cond
	drained   atomic.Bool
}

// New builds and starts a Processor. Any parameter given as 0 falls back
// to a default: bufferSize -> 1024, numThreads -> runtime.NumCPU(),
// batchSize -> 1, flushIntervalMs -> 1.
func New(bufferSize, numThreads, batchSize, flushIntervalMs int) *Processor {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 1
	}

	freq, err := cms.New(channelFrequencyWidth, channelFrequencyDepth, channelFrequencySeed)
	if err != nil {
		panic("eventstream: invalid built-in channel frequency sketch configuration: " + err.Error())
	}

	p := &Processor{
		batchSize:        batchSize,
		flushInterval:    time.Duration(flushIntervalMs) * time.Millisecond,
		timeSource:       func() int64 { return time.Now().Unix() },
		buffer:           ring.New[Event](bufferSize),
		pool:             workerpool.New(numThreads),
		consumerDone:     make(chan struct{}),
		dataSignal:       make(chan struct{}, 1),
		channelFrequency: freq,
		channelCounts:    make(map[string]uint64),
		pendingBatch:     make([]Event, 0, batchSize*2),
	}
	p.flushCond = sync.NewCond(&p.flushMu)
	p.pendingCond = sync.NewCond(&p.pendingMu)
	p.drainCond = sync.NewCond(&p.drainMu)
	p.drained.Store(true)
	p.running.Store(true)

	go p.consumeLoop()
	return p
}

// PushEvent enqueues an event for processing. It never blocks: if the ring
// buffer is full, the event is dropped and counted in EventsDropped.
func (p *Processor) PushEvent(eventType, userID, channelID string, timestamp int64) bool {
	ev := Event{EventType: eventType, UserID: userID, ChannelID: channelID, Timestamp: timestamp}
	if !p.buffer.Push(ev) {
		p.eventsDropped.Add(1)
		return false
	}
	p.drained.Store(false)
	p.wake()
	return true
}

func (p *Processor) wake() {
	select {
	case p.dataSignal <- struct{}{}:
	default:
	}
}

// TotalEventsProcessed returns the number of events the consumer has
// dequeued and processed so far.
func (p *Processor) TotalEventsProcessed() uint64 { return p.totalProcessed.Load() }

// EventsDropped returns the number of PushEvent calls that found the ring
// buffer full.
func (p *Processor) EventsDropped() uint64 { return p.eventsDropped.Load() }

// SetTimeSource overrides the clock used for bucketing and window
// eviction. Tests use this to drive bucket assignment deterministically
// instead of the wall clock.
func (p *Processor) SetTimeSource(fn func() int64) {
	if fn == nil {
		fn = func() int64 { return time.Now().Unix() }
	}
	p.statsMu.Lock()
	p.timeSource = fn
	p.statsMu.Unlock()
}

// SetFlushCallback installs the function batches are delivered to. Pass
// nil to unset it; events that would have been delivered while no
// callback is set are held in the pending batch instead of being lost, and
// are delivered once a callback is installed and the next flush occurs.
func (p *Processor) SetFlushCallback(cb func([]Event)) {
	p.callbackMu.Lock()
	p.callback = cb
	p.callbackMu.Unlock()
}

func bucketStart(timestamp int64, timeSource func() int64) int64 {
	if timestamp <= 0 {
		timestamp = timeSource()
	}
	return (timestamp / bucketSpanSeconds) * bucketSpanSeconds
}

func (p *Processor) processEvent(ev Event) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	bucket := bucketStart(ev.Timestamp, p.timeSource)
	cutoff := bucket - windowSpanSeconds

	p.channelFrequency.Increment([]byte(ev.ChannelID), 1)
	p.channelCounts[ev.ChannelID]++

	for len(p.windows) > 0 && p.windows[0].windowStart < cutoff {
		p.windows = p.windows[1:]
	}

	for i := range p.windows {
		if p.windows[i].windowStart == bucket {
			p.windows[i].sketch.Add([]byte(ev.UserID))
			return
		}
	}

	sketch, err := hyperloglog.New(uniqueUserPrecision)
	if err != nil {
		panic("eventstream: invalid built-in unique-user sketch precision: " + err.Error())
	}
	sketch.Add([]byte(ev.UserID))
	p.windows = append(p.windows, hllWindow{windowStart: bucket, sketch: sketch})
	sort.Slice(p.windows, func(i, j int) bool { return p.windows[i].windowStart < p.windows[j].windowStart })
}

// GetUniqueUsersLastHour returns an estimate of the number of distinct
// users seen across the trailing windowSpanSeconds.
func (p *Processor) GetUniqueUsersLastHour() uint64 {
	aggregate, err := hyperloglog.New(uniqueUserPrecision)
	if err != nil {
		panic("eventstream: invalid built-in unique-user sketch precision: " + err.Error())
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	cutoff := p.timeSource() - windowSpanSeconds
	for len(p.windows) > 0 && p.windows[0].windowStart < cutoff {
		p.windows = p.windows[1:]
	}
	for _, w := range p.windows {
		_ = aggregate.Merge(w.sketch) // precision is fixed for every window, merge cannot fail
	}
	return aggregate.Cardinality()
}

// GetTopChannels returns up to k channels ranked by their exact event
// count, highest first. Ties are broken by channel id ascending, since
// Go's map iteration order is randomized and the caller needs a
// deterministic answer.
func (p *Processor) GetTopChannels(k int) []ChannelCount {
	p.statsMu.Lock()
	entries := make([]ChannelCount, 0, len(p.channelCounts))
	for id, count := range p.channelCounts {
		entries = append(entries, ChannelCount{ChannelID: id, Count: count})
	}
	p.statsMu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].ChannelID < entries[j].ChannelID
	})

	if k < 0 {
		k = 0
	}
	if k < len(entries) {
		entries = entries[:k]
	}
	return entries
}

// FlushNow blocks until every event currently ingested (or arriving before
// this call returns) has been batched and handed to the flush callback (or
// folded back into the pending batch, if no callback is set), and the
// pipeline has reported itself drained. It waits through a three-stage
// barrier mirroring the consumer's own bookkeeping: flushRequested cleared,
// then pendingFlushTasks reaching zero, then drained becoming true.
func (p *Processor) FlushNow() {
	p.flushRequested.Store(true)
	p.wake()

	p.flushMu.Lock()
	for p.flushRequested.Load() {
		p.flushCond.Wait()
	}
	p.flushMu.Unlock()

	p.pendingMu.Lock()
	for p.pendingFlushTasks.Load() != 0 {
		p.pendingCond.Wait()
	}
	p.pendingMu.Unlock()

	p.notifyIdleState()

	p.drainMu.Lock()
	for !p.drained.Load() {
		p.drainCond.Wait()
	}
	p.drainMu.Unlock()
}

// Close stops the consumer goroutine and the worker pool. Any events still
// queued are drained and, if a callback is set, delivered before Close
// returns.
func (p *Processor) Close() {
	p.running.Store(false)
	p.flushRequested.Store(true)
	p.wake()
	<-p.consumerDone
	p.pool.Shutdown()
}

func (p *Processor) swapBatch() []Event {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	batch := p.pendingBatch
	p.pendingBatch = make([]Event, 0, cap(batch))
	return batch
}

func (p *Processor) consumeLoop() {
	p.lastFlushTime = time.Now()

	for p.running.Load() || !p.buffer.Empty() {
		if ev, ok := p.buffer.Pop(); ok {
			p.processEvent(ev)
			p.totalProcessed.Add(1)

			p.batchMu.Lock()
			p.pendingBatch = append(p.pendingBatch, ev)
			reachedBatch := len(p.pendingBatch) >= p.batchSize
			p.batchMu.Unlock()

			if reachedBatch {
				batch := p.swapBatch()
				p.flushBatch(batch)
				p.lastFlushTime = time.Now()
				p.notifyIdleState()
			}
			continue
		}

		p.batchMu.Lock()
		shouldFlush := len(p.pendingBatch) > 0 && time.Since(p.lastFlushTime) >= p.flushInterval
		p.batchMu.Unlock()

		if shouldFlush || p.flushRequested.Load() {
			batch := p.swapBatch()
			if len(batch) > 0 {
				p.flushBatch(batch)
			}
			p.lastFlushTime = time.Now()
			p.flushRequested.Store(false)

			p.flushMu.Lock()
			p.flushCond.Broadcast()
			p.flushMu.Unlock()

			p.notifyIdleState()
			continue
		}

		p.waitForData(dataPollInterval)
		p.notifyIdleState()
	}

	remaining := p.swapBatch()
	if len(remaining) > 0 {
		p.flushBatch(remaining)
	}
	p.flushRequested.Store(false)

	p.flushMu.Lock()
	p.flushCond.Broadcast()
	p.flushMu.Unlock()

	p.notifyIdleState()
	close(p.consumerDone)
}

func (p *Processor) waitForData(timeout time.Duration) {
	select {
	case <-p.dataSignal:
	case <-time.After(timeout):
	}
}

// flushBatch hands batch to the current callback via the worker pool. If
// no callback is set, the events are folded back into the pending batch so
// a callback registered later still receives them. If the pool has been
// shut down, the callback runs synchronously on the consumer goroutine
// instead — bookkeeping (pendingFlushTasks, idle notification) happens
// either way.
func (p *Processor) flushBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}

	p.callbackMu.Lock()
	cb := p.callback
	p.callbackMu.Unlock()

	if cb == nil {
		p.batchMu.Lock()
		p.pendingBatch = append(p.pendingBatch, batch...)
		p.batchMu.Unlock()
		return
	}

	p.pendingFlushTasks.Add(1)
	finish := func() {
		p.pendingFlushTasks.Add(-1)
		p.pendingMu.Lock()
		p.pendingCond.Broadcast()
		p.pendingMu.Unlock()
		p.notifyIdleState()
	}

	err := p.pool.Enqueue(func() {
		defer finish()
		runCallback(cb, batch)
	})
	if err != nil {
		defer finish()
		runCallback(cb, batch)
	}
}

// runCallback invokes cb, swallowing any panic so a misbehaving callback
// cannot take down the consumer goroutine or a pool worker.
func runCallback(cb func([]Event), batch []Event) {
	defer func() { _ = recover() }()
	cb(batch)
}

func (p *Processor) notifyIdleState() {
	if !p.buffer.Empty() {
		p.drained.Store(false)
		return
	}

	// Events held back because no callback is set cannot be delivered by
	// waiting, so they only keep the pipeline undrained while a callback is
	// installed.
	p.callbackMu.Lock()
	hasCallback := p.callback != nil
	p.callbackMu.Unlock()

	p.batchMu.Lock()
	batchEmpty := len(p.pendingBatch) == 0
	p.batchMu.Unlock()
	if hasCallback && !batchEmpty {
		p.drained.Store(false)
		return
	}

	if p.pendingFlushTasks.Load() != 0 {
		p.drained.Store(false)
		return
	}

	p.drained.Store(true)
	p.drainMu.Lock()
	p.drainCond.Broadcast()
	p.drainMu.Unlock()
}
