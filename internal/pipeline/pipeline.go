// Package pipeline implements the bounded fan-out/fan-in worker pool the
// Add-File Processor's digest pool and copy pool are built on (spec §4.4,
// §4.12): a fixed number of goroutines consume a work queue and produce
// results, with the first error from any stage cancelling the rest.
package pipeline

import (
	"context"
	"runtime"
	"sync"
)

type pipeline[Tin, Tout any] struct {
	setupFn  func(func(Tin) error) error
	workFn   func(context.Context, Tin) (Tout, error)
	resultFn func(Tout) error
	numgos   int
	workQ    chan Tin
	resultQ  chan Tout
	workWG   sync.WaitGroup
	cancel   context.CancelFunc
	err      error
	errOnce  sync.Once
}

// Run is a generic fan-out/fan-in pipeline. setupFn feeds the work queue
// by calling the add function it's given; workFn processes each queued
// value, running concurrently across up to gos goroutines (gos <= 0 uses
// runtime.NumCPU()); resultFn consumes each produced value, running in the
// same goroutine that called Run. The first error returned by any of the
// three cancels the shared context and is returned by Run once all
// in-flight work drains.
func Run[Tin, Tout any](
	ctx context.Context,
	setupFn func(add func(Tin) error) error,
	workFn func(context.Context, Tin) (Tout, error),
	resultFn func(Tout) error,
	gos int,
) error {
	return (&pipeline[Tin, Tout]{
		numgos:   gos,
		setupFn:  setupFn,
		workFn:   workFn,
		resultFn: resultFn,
	}).run(ctx)
}

func (p *pipeline[Tin, Tout]) run(ctx context.Context) error {
	if p.numgos < 1 {
		p.numgos = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	p.workQ = make(chan Tin, p.numgos)
	p.resultQ = make(chan Tout, p.numgos)

	go func() {
		defer close(p.workQ)
		if p.setupFn == nil {
			return
		}
		addWork := func(w Tin) error {
			select {
			case p.workQ <- w:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.setupFn(addWork); err != nil {
			p.setError(err)
		}
	}()

	p.workWG.Add(p.numgos)
	for i := 0; i < p.numgos; i++ {
		go p.worker(ctx)
	}
	go func() {
		defer close(p.resultQ)
		p.workWG.Wait()
	}()

	for r := range p.resultQ {
		if p.resultFn != nil {
			if err := p.resultFn(r); err != nil {
				p.setError(err)
			}
		}
	}
	return p.err
}

func (p *pipeline[Tin, Tout]) worker(ctx context.Context) {
	defer p.workWG.Done()
	for in := range p.workQ {
		var out Tout
		if p.workFn != nil {
			var err error
			out, err = p.workFn(ctx, in)
			if err != nil {
				p.setError(err)
				return
			}
		}
		select {
		case p.resultQ <- out:
		case <-ctx.Done():
			return
		}
	}
}

func (p *pipeline[Tin, Tout]) setError(err error) {
	if err == nil {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.errOnce.Do(func() { p.err = err })
}
