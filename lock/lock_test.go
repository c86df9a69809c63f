package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/lock"
)

func TestDoInWriteLockExcludesReaders(t *testing.T) {
	is := is.New(t)
	m := lock.New(0)
	ctx := context.Background()

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.DoInWriteLock(ctx, "obj1", func(context.Context) error {
			record("write-start")
			close(started)
			<-release
			record("write-end")
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = m.DoInReadLock(ctx, "obj1", func(context.Context) error {
			record("read")
			return nil
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	<-done

	is.Equal(order[0], "write-start")
	is.Equal(order, []string{"write-start", "write-end", "read"})
}

func TestDoInWriteLockTimesOut(t *testing.T) {
	is := is.New(t)
	m := lock.New(20 * time.Millisecond)
	ctx := context.Background()

	locked := make(chan struct{})
	unlock := make(chan struct{})
	go func() {
		_ = m.DoInWriteLock(ctx, "obj1", func(context.Context) error {
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked
	defer close(unlock)

	err := m.DoInWriteLock(ctx, "obj1", func(context.Context) error { return nil })
	is.True(errors.Is(err, ocfl.ErrLockAcquisition))
}

func TestDoInReadLockAllowsConcurrentReaders(t *testing.T) {
	is := is.New(t)
	m := lock.New(0)
	ctx := context.Background()

	var active int32
	var mu sync.Mutex
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.DoInReadLock(ctx, "obj1", func(context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	is.True(maxActive > 1)
}
