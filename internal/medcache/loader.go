package medcache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Load results passed to a LoadObserver.
const (
	LoadHit   = "hit"
	LoadMiss  = "miss"
	LoadError = "error"
)

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// context of the caller that started it.
const DefaultFetchTimeout = 30 * time.Second

// LoadObserver is notified after every Load with the cache name, one of the
// Load* results and the elapsed time.
type LoadObserver func(cache, result string, d time.Duration)

// Loader implements read-through access: serve from the cache, otherwise
// fetch once per key and store the result.
type Loader[T any] struct {
	cache    *Cache[T]
	group    singleflight.Group
	logger   *zap.Logger
	observer LoadObserver
	timeout  time.Duration
}

type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	logger   *zap.Logger
	observer LoadObserver
	timeout  time.Duration
}

func WithLoaderLogger(l *zap.Logger) LoaderOption {
	return func(o *loaderOptions) { o.logger = l }
}

func WithLoadObserver(fn LoadObserver) LoaderOption {
	return func(o *loaderOptions) { o.observer = fn }
}

// WithFetchTimeout overrides DefaultFetchTimeout. Non-positive values keep
// the default.
func WithFetchTimeout(d time.Duration) LoaderOption {
	return func(o *loaderOptions) { o.timeout = d }
}

func NewLoader[T any](c *Cache[T], opts ...LoaderOption) *Loader[T] {
	o := loaderOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.observer == nil {
		o.observer = func(string, string, time.Duration) {}
	}
	if o.timeout <= 0 {
		o.timeout = DefaultFetchTimeout
	}
	return &Loader[T]{
		cache:    c,
		logger:   o.logger.Named("loader").With(zap.String("cache", c.Name())),
		observer: o.observer,
		timeout:  o.timeout,
	}
}

// Cache returns the wrapped cache.
func (l *Loader[T]) Cache() *Cache[T] { return l.cache }

// Load returns the cached value for key, or calls fetch and caches what it
// returns with opts. hit reports whether the value came from the cache.
// A stored entry that fails to decode is dropped and refetched.
//
// Concurrent misses for key share one fetch. The fetch does not stop when
// the caller that started it goes away; it is bounded by the fetch timeout
// instead. A fetch overtaken by a purge of its key or patient still answers
// the callers waiting on it but is not stored, and callers arriving after
// the purge start a new fetch.
func (l *Loader[T]) Load(
	ctx context.Context,
	key string,
	fetch func(ctx context.Context) (T, error),
	opts ...SetOption,
) (value T, hit bool, err error) {
	start := time.Now()

	cached, ok, err := l.cache.Get(key)
	switch {
	case err != nil && errors.Is(err, ErrDecode):
		l.logger.Warn("cached entry undecodable, refetching",
			zap.String("key", key),
			zap.Error(err),
		)
		l.cache.Delete(key)
	case ok:
		l.observer(l.cache.Name(), LoadHit, time.Since(start))
		return cached, true, nil
	}

	patientID := applySetOptions(opts).patientID
	flight := key + "#" + strconv.FormatUint(l.cache.purgeEpoch(), 10)

	ch := l.group.DoChan(flight, func() (any, error) {
		pending := l.cache.beginLoad(key, patientID)
		defer l.cache.endLoad(pending)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		v, err := fetch(fetchCtx)
		if err != nil {
			return v, err
		}
		setOpts := append(append([]SetOption(nil), opts...), afterLoad(pending))
		if err := l.cache.Set(key, v, setOpts...); err != nil {
			// still serve the fetched value
			l.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		l.observer(l.cache.Name(), LoadError, time.Since(start))
		return value, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			l.observer(l.cache.Name(), LoadError, time.Since(start))
			return value, false, res.Err
		}
		l.observer(l.cache.Name(), LoadMiss, time.Since(start))
		v, _ := res.Val.(T)
		return v, false, nil
	}
}
