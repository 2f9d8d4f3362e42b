package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mympdgo/internal/backend"
	"mympdgo/internal/config"
	"mympdgo/internal/metrics"
)

// Registry tracks the running workers by partition name.
type Registry interface {
	AddWorker(w *Worker) error
	RemoveWorker(name string) (*Worker, bool)
}

// Pool starts workers that share one backend server and the caches in base.
type Pool struct {
	base Options
	reg  Registry

	mu     sync.Mutex
	ctx    context.Context
	closed bool
	wg     sync.WaitGroup
}

// NewPool returns a pool. base carries everything but Name; base.Address is
// used for partitions added at runtime.
func NewPool(base Options, reg Registry) *Pool {
	return &Pool{base: base, reg: reg}
}

// Run starts a worker for each configured partition and blocks until ctx is
// done and all workers have stopped.
func (p *Pool) Run(ctx context.Context, parts []config.PartitionConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	var errs []error
	for i, pc := range parts {
		addr := backend.Address{Network: pc.Network(), Addr: pc.Addr(), Password: pc.Password}
		if i == 0 && p.base.Address.Addr == "" {
			// runtime partitions live on the server of the first one
			p.base.Address = addr
		}
		if _, err := p.Start(ctx, pc.Name, addr); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		cancel()
		p.shutdown()
		return err
	}
	<-ctx.Done()
	p.shutdown()
	return nil
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Start creates, registers and runs the worker of one partition.
func (p *Pool) Start(ctx context.Context, name string, addr backend.Address) (*Worker, error) {
	o := p.base
	o.Name = name
	o.Address = addr
	o.Registrar = p
	w := New(o)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("partition %s: pool is shut down", name)
	}
	if err := p.reg.AddWorker(w); err != nil {
		return nil, err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = w.Run(ctx)
	}()
	return w, nil
}

// AddPartition starts a worker for a partition created at runtime. It talks
// to the same server as the base address.
func (p *Pool) AddPartition(ctx context.Context, name string) error {
	p.mu.Lock()
	if p.ctx != nil {
		ctx = p.ctx
	}
	p.mu.Unlock()
	_, err := p.Start(ctx, name, p.base.Address)
	return err
}

// RemovePartition stops the worker of name. It does not wait for it.
func (p *Pool) RemovePartition(name string) error {
	w, ok := p.reg.RemoveWorker(name)
	if !ok {
		return fmt.Errorf("no worker for partition %s", name)
	}
	w.Stop()
	go func() {
		<-w.Done()
		metrics.DeletePartition(name)
	}()
	return nil
}
