package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mmdatafocus/tradedocs/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var ErrNoFetcher = errors.New("no fetcher registered for key")

type Fetcher func(ctx context.Context) (any, error)

// State is a snapshot of one cached resource.
type State struct {
	Key      Key
	Value    any
	HasValue bool
	// fetching with nothing to show yet
	Loading bool
	// fetching while a previous value is still shown
	Retrying bool
	// retries made by the current or last fetch; 0 on a first-try success
	Attempt   int
	Err       error
	UpdatedAt time.Time
	Stale     bool
}

type entry struct {
	key        Key
	value      any
	hasValue   bool
	updatedAt  time.Time
	invalid    bool
	fetching   bool
	attempt    int
	err        error
	generation uint64
	fetcher    Fetcher
	opts       Options
	observers  map[int]func(State)
}

// Cache mediates remote reads and writes for one session.
// Cached values are shared between readers and must not be modified.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	group        singleflight.Group
	defaults     Options
	store        Store
	logger       *logrus.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	nextObserver int
	closed       bool
	background   sync.WaitGroup
}

type CacheOption func(*Cache)

func WithDefaults(o Options) CacheOption {
	return func(c *Cache) { c.defaults = o }
}

// WithStore adds a second-level store shared between sessions.
func WithStore(s Store) CacheOption {
	return func(c *Cache) { c.store = s }
}

func WithLogger(l *logrus.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) CacheOption {
	return func(c *Cache) { c.sleep = sleep }
}

func New(opts ...CacheOption) *Cache {
	c := &Cache{
		entries:  make(map[string]*entry),
		defaults: DefaultOptions(),
		logger:   config.GetLogger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Read returns the cached value for key when fresh, the cached value plus a background
// refresh when stale, and blocks on fetch only when nothing is cached.
func Read[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	o := c.defaults
	for _, opt := range opts {
		opt(&o)
	}
	fetcher := func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}

	if c.store != nil && !c.hasValue(key) {
		var shared T
		savedAt, found, err := c.store.Get(ctx, key, &shared)
		if err != nil {
			config.LogError(c.logger, "querycache", "Read", "store get "+key.String(), nil, err)
		} else if found {
			c.seed(key, shared, savedAt)
		}
	}

	v, err := c.read(ctx, key, fetcher, o)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query %s: cached value has type %T", key, v)
	}
	return typed, nil
}

// Write runs mutate once and, on success, invalidates every key given.
func Write[T any](ctx context.Context, c *Cache, mutate func(context.Context) (T, error), invalidate ...Key) (T, error) {
	v, err := mutate(ctx)
	if err != nil {
		return v, err
	}
	c.Invalidate(ctx, invalidate...)
	return v, nil
}

func (c *Cache) read(ctx context.Context, key Key, fetcher Fetcher, o Options) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(key)
	e.fetcher = fetcher
	e.opts = o

	if e.hasValue {
		v := e.value
		if !c.staleLocked(e) || e.fetching {
			c.mu.Unlock()
			return v, nil
		}
		gen := c.beginLocked(e)
		state, observers := c.snapshotLocked(e)
		c.background.Add(1)
		c.mu.Unlock()

		notify(state, observers)
		go func() {
			defer c.background.Done()
			_, _ = c.shared(context.WithoutCancel(ctx), e, gen, fetcher, o)
		}()
		return v, nil
	}

	gen := e.generation
	if !e.fetching {
		gen = c.beginLocked(e)
	}
	state, observers := c.snapshotLocked(e)
	c.mu.Unlock()

	notify(state, observers)
	return c.shared(ctx, e, gen, fetcher, o)
}

// Refetch is the manual retry: it resets the attempt counter and fetches regardless of staleness.
func (c *Cache) Refetch(ctx context.Context, key Key) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	e, ok := c.entries[key.String()]
	if !ok || e.fetcher == nil {
		c.mu.Unlock()
		return ErrNoFetcher
	}
	e.attempt = 0
	e.err = nil
	gen := c.beginLocked(e)
	fetcher, o := e.fetcher, e.opts
	state, observers := c.snapshotLocked(e)
	c.mu.Unlock()

	notify(state, observers)
	_, err := c.shared(ctx, e, gen, fetcher, o)
	return err
}

// Invalidate marks every entry under the given prefixes stale and discards their in-flight fetches.
// Entries with subscribers are refetched in the background.
func (c *Cache) Invalidate(ctx context.Context, prefixes ...Key) {
	if len(prefixes) == 0 {
		return
	}
	type job struct {
		e       *entry
		gen     uint64
		fetcher Fetcher
		opts    Options
	}
	var jobs []job
	var states []State
	var observerSets [][]func(State)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for _, e := range c.entries {
		if !matchesAny(e.key, prefixes) {
			continue
		}
		e.invalid = true
		if e.fetching {
			e.generation++
			e.fetching = false
		}
		if len(e.observers) > 0 && e.fetcher != nil {
			jobs = append(jobs, job{e: e, gen: c.beginLocked(e), fetcher: e.fetcher, opts: e.opts})
		}
		state, observers := c.snapshotLocked(e)
		states = append(states, state)
		observerSets = append(observerSets, observers)
	}
	c.background.Add(len(jobs))
	store := c.store
	c.mu.Unlock()

	for i := range states {
		notify(states[i], observerSets[i])
	}
	detached := context.WithoutCancel(ctx)
	for _, j := range jobs {
		go func(j job) {
			defer c.background.Done()
			_, _ = c.shared(detached, j.e, j.gen, j.fetcher, j.opts)
		}(j)
	}
	if store != nil {
		for _, p := range prefixes {
			if err := store.Invalidate(ctx, p); err != nil {
				config.LogError(c.logger, "querycache", "Invalidate", "store invalidate "+p.String(), nil, err)
			}
		}
	}
}

// Subscribe registers fn for state changes of key. Callbacks run on the goroutine causing the change.
func (c *Cache) Subscribe(key Key, fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	e := c.entryLocked(key)
	id := c.nextObserver
	c.nextObserver++
	e.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(e.observers, id)
		c.mu.Unlock()
	}
}

func (c *Cache) State(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return State{Key: key}
	}
	state, _ := c.snapshotLocked(e)
	return state
}

// WaitIdle blocks until background refreshes started so far have finished.
func (c *Cache) WaitIdle() {
	c.background.Wait()
}

// Close tears the cache down at the end of a session and clears the shared store.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.entries = make(map[string]*entry)
	store := c.store
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if store != nil {
		return store.Clear(ctx)
	}
	return nil
}

// shared joins the fetch of e's generation gen. The fetch runs detached from every caller:
// a caller whose ctx ends stops waiting, the others still get the result.
func (c *Cache) shared(ctx context.Context, e *entry, gen uint64, fetcher Fetcher, o Options) (any, error) {
	flightKey := e.key.String() + "#" + strconv.FormatUint(gen, 10)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.run(detached, e, gen, fetcher, o)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, e *entry, gen uint64, fetcher Fetcher, o Options) (any, error) {
	attempt := 0
	for {
		value, err := fetchOnce(ctx, fetcher, o.Timeout)
		if err == nil {
			c.commit(ctx, e, gen, value, attempt)
			return value, nil
		}

		class := Classify(err)
		if class != ClassTransient || attempt >= o.MaxRetries {
			qerr := &QueryError{Key: e.key, Class: class, Attempts: attempt + 1, Err: err}
			c.fail(e, gen, qerr, attempt)
			c.logger.WithFields(logrus.Fields{
				"module":   "querycache",
				"key":      e.key.String(),
				"class":    class,
				"attempts": attempt + 1,
			}).Warn(err.Error())
			return nil, qerr
		}

		delay := RetryDelay(attempt, o.BaseDelay, o.MaxDelay)
		attempt++
		c.retrying(e, gen, attempt, err)
		c.logger.WithFields(logrus.Fields{
			"module":  "querycache",
			"key":     e.key.String(),
			"attempt": attempt,
			"delay":   delay.String(),
		}).Debug("retrying query")

		if err := c.sleep(ctx, delay); err != nil {
			c.fail(e, gen, err, attempt)
			return nil, err
		}
	}
}

func fetchOnce(ctx context.Context, fetcher Fetcher, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fetcher(ctx)
}

func (c *Cache) commit(ctx context.Context, e *entry, gen uint64, value any, attempt int) {
	c.mu.Lock()
	if c.closed || e.generation != gen {
		c.mu.Unlock()
		c.logger.WithField("key", e.key.String()).Debug("discarding superseded fetch")
		return
	}
	e.value = value
	e.hasValue = true
	e.updatedAt = c.now()
	e.invalid = false
	e.fetching = false
	e.err = nil
	e.attempt = attempt
	state, observers := c.snapshotLocked(e)
	store := c.store
	c.mu.Unlock()

	notify(state, observers)
	if store != nil {
		if err := store.Set(ctx, e.key, value); err != nil {
			config.LogError(c.logger, "querycache", "commit", "store set "+e.key.String(), nil, err)
		}
	}
}

// fail records err and keeps any previous value visible.
func (c *Cache) fail(e *entry, gen uint64, err error, attempt int) {
	c.mu.Lock()
	if c.closed || e.generation != gen {
		c.mu.Unlock()
		return
	}
	e.fetching = false
	e.err = err
	e.attempt = attempt
	state, observers := c.snapshotLocked(e)
	c.mu.Unlock()
	notify(state, observers)
}

func (c *Cache) retrying(e *entry, gen uint64, attempt int, err error) {
	c.mu.Lock()
	if c.closed || e.generation != gen {
		c.mu.Unlock()
		return
	}
	e.attempt = attempt
	e.err = err
	state, observers := c.snapshotLocked(e)
	c.mu.Unlock()
	notify(state, observers)
}

func (c *Cache) hasValue(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return ok && e.hasValue
}

// seed fills an empty entry from the shared store.
func (c *Cache) seed(key Key, value any, savedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e := c.entryLocked(key)
	if e.hasValue {
		return
	}
	e.value = value
	e.hasValue = true
	e.updatedAt = savedAt
}

func (c *Cache) entryLocked(key Key) *entry {
	k := key.String()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{
			key:       append(Key(nil), key...),
			observers: make(map[int]func(State)),
		}
		c.entries[k] = e
	}
	return e
}

func (c *Cache) beginLocked(e *entry) uint64 {
	e.generation++
	e.fetching = true
	return e.generation
}

func (c *Cache) staleLocked(e *entry) bool {
	return e.invalid || c.now().Sub(e.updatedAt) >= e.opts.StaleTime
}

func (c *Cache) snapshotLocked(e *entry) (State, []func(State)) {
	state := State{
		Key:       e.key,
		Value:     e.value,
		HasValue:  e.hasValue,
		Loading:   e.fetching && !e.hasValue,
		Retrying:  e.fetching && e.hasValue,
		Attempt:   e.attempt,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Stale:     e.hasValue && c.staleLocked(e),
	}
	observers := make([]func(State), 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	return state, observers
}

func notify(state State, observers []func(State)) {
	for _, fn := range observers {
		fn(state)
	}
}

func matchesAny(k Key, prefixes []Key) bool {
	for _, p := range prefixes {
		if k.HasPrefix(p) {
			return true
		}
	}
	return false
}
