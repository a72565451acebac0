package comm

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	// a send on leases reserves one of maxSize slots, a receive frees it.
	// len(leases) is the number of connections given out.
	leases  chan struct{}
	idle    chan io.ReadWriteCloser // returned connections, waiting for reuse
	timeout time.Duration           // time after the last return to free all connections
	timer   *time.Timer             // fires reclaim
	maker   CreationFunc

	mu sync.Mutex
}

// NewPool creates a pool of at most maxSize connections made by maker.
// Idle connections are closed timeout after the last one is returned.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		leases:  make(chan struct{}, maxSize),
		idle:    make(chan io.ReadWriteCloser, maxSize),
		timeout: timeout,
		maker:   maker,
	}
	p.timer = time.AfterFunc(timeout, p.reclaim)
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a connection from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the connection, return it with Put(), or discard it with
// Destroy() if it has gone bad.  ReturnWithError picks between the two.
//
// If the error from Get is not nil, you must not return the connection
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.leases <- struct{}{}

	p.mu.Lock()
	p.timer.Stop()
	select {
	case c := <-p.idle:
		p.mu.Unlock()
		return c, nil
	default:
	}
	p.mu.Unlock()

	c, err := p.maker()
	if err != nil {
		<-p.leases
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return c, nil
}

// Put restores a connection to the pool
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle <- rwc // never blocks, at most maxSize connections exist
	p.release()
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rwc, ok := rw.(io.Closer); ok {
		rwc.Close()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
}

// ReturnWithError returns the connection to the pool if err is nil,
// and destroys it otherwise
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + len(p.leases)
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	return len(p.leases)
}

// release frees a lease slot and arms the reclaim timer when nothing is out.
// p.mu must be held.
func (p *Pool) release() {
	<-p.leases
	if len(p.leases) == 0 {
		p.timer.Reset(p.timeout)
	}
}

// reclaim closes every idle connection if none are on lease
func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.leases) != 0 {
		return
	}
	for {
		select {
		case c := <-p.idle:
			c.Close()
		default:
			return
		}
	}
}
