// Package lock provides named mutual exclusion for payment reconciliation,
// across replicas when Redis is configured and in-process otherwise.
package lock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when the lock could not be acquired within the retry budget.
var ErrBusy = errors.New("lock busy")

// Unlock releases a lock obtained from a Locker.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, name string) (Unlock, error)
}

const (
	defaultExpiry = 30 * time.Second
	defaultTries  = 20
)

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr, password string, useTLS bool) (*redis.Client, error) {
	var tlsConfig *tls.Config
	if useTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		TLSConfig:    tlsConfig,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	log    *slog.Logger
}

func NewRedisLocker(rdb *redis.Client, log *slog.Logger) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(rdb)),
		prefix: "banana:lock:",
		log:    log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, name string) (Unlock, error) {
	mutex := l.rs.NewMutex(
		l.prefix+name,
		redsync.WithExpiry(defaultExpiry),
		redsync.WithTries(defaultTries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, name, err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			l.log.Warn("release lock", "name", name, "error", err)
		}
	}, nil
}

// LocalLocker serializes holders of the same name within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, name string) (Unlock, error) {
	l.mu.Lock()
	entry, ok := l.locks[name]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[name] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(name, entry, false)
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, name, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(name, entry, true) })
	}, nil
}

func (l *LocalLocker) release(name string, entry *localEntry, held bool) {
	if held {
		<-entry.ch
	}
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, name)
	}
	l.mu.Unlock()
}
