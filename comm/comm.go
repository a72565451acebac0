/*Package comm provides connection plumbing for communication with lab hardware.

Most usages of this package will boil down to:
	1.  pick a CreationFunc for the physical link (TCPConnMaker or
		BackingOffTCPConnMaker for a terminal server, SerialConnMaker for
		RS-232)
	2.  put it in a Pool.  A pool of size 1 guarantees at most one command is
		in flight to the device at a time
	3.  for each command, Get a connection, wrap it with NewTimeout and
		NewTerminator, write, read, and ReturnWithError it to the pool

A minimal example for a sensor that responds to "RD?" with a number:

	pool := comm.NewPool(1, 10*time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(comm.NewTimeout(conn, time.Second), '\n', '\n')
	if _, err = io.WriteString(rw, "RD?"); err != nil {
		return 0, err
	}
	buf := make([]byte, 64)
	n, err := rw.Read(buf)
	...
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrShortBuffer is generated when a terminated response does not fit in the read buffer
	ErrShortBuffer = errors.New("response larger than read buffer")

	// ErrNotConnected is generated when a pool cannot make a connection to the device
	ErrNotConnected = errors.New("not connected")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPConnMaker returns a CreationFunc that dials addr once with the given timeout
func TCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return net.DialTimeout("tcp", addr, timeout)
	}
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  Terminal servers do not like being connection
// thrashed, so a busy port is retried for a few seconds.  A refused
// connection is not retried.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var (
			conn    net.Conn
			refused error
		)
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					// returning nil ends the retry loop, the error is kept in the closure
					refused = err
					return nil
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if refused != nil {
			return nil, refused
		}
		if err != nil {
			return nil, fmt.Errorf("connection timeout to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens the serial port described by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// deadliner is satisfied by net.Conn
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Timeout sets a fresh deadline on the underlying connection before every
// read and write.  Connections without deadlines (serial ports, which carry
// their timeout in serial.Config) are passed through untouched.
type Timeout struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewTimeout wraps rw with a per-operation timeout
func NewTimeout(rw io.ReadWriter, timeout time.Duration) *Timeout {
	return &Timeout{rw: rw, timeout: timeout}
}

// Read satisfies io.Reader
func (t *Timeout) Read(b []byte) (int, error) {
	if dl, ok := t.rw.(deadliner); ok {
		if err := dl.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	return t.rw.Read(b)
}

// Write satisfies io.Writer
func (t *Timeout) Write(b []byte) (int, error) {
	if dl, ok := t.rw.(deadliner); ok {
		if err := dl.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	return t.rw.Write(b)
}

// Terminator appends a transmit terminator to every write and reads
// until the receipt terminator, which is stripped along with a preceding
// carriage return.  It is not concurrent safe; make one per command.
type Terminator struct {
	rw io.ReadWriter
	r  *bufio.Reader
	rx byte
	tx byte
}

// NewTerminator wraps rw with rx and tx framing bytes
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, r: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write sends b followed by the tx terminator
func (t *Terminator) Write(b []byte) (int, error) {
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	buf[len(b)] = t.tx
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one terminated message into b, without the terminator
func (t *Terminator) Read(b []byte) (int, error) {
	line, err := t.r.ReadBytes(t.rx)
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return copy(b, line), ErrTerminatorNotFound
		}
		return 0, err
	}
	line = line[:len(line)-1]
	if t.rx != '\r' && len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if len(line) > len(b) {
		return copy(b, line), ErrShortBuffer
	}
	return copy(b, line), nil
}
