// Package expecttest provides an in-memory scripted child for testing code
// built on expect sessions.
package expecttest

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by ReadLine when no line arrives in time.
var ErrTimeout = errors.New("expecttest: timed out waiting for input")

// Child is the far end of a session transport. Tests write prompts with
// Print and read replies with ReadLine.
type Child struct {
	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	lines chan string

	mu       sync.Mutex
	received strings.Builder

	closes atomic.Int32
}

// New creates a child and starts collecting whatever the session sends.
func New() *Child {
	c := &Child{lines: make(chan string, 64)}
	c.outR, c.outW = io.Pipe()
	c.inR, c.inW = io.Pipe()
	go c.collect()
	return c
}

func (c *Child) collect() {
	defer close(c.lines)
	r := bufio.NewReader(c.inR)
	for {
		line, err := r.ReadString('\n')
		c.mu.Lock()
		c.received.WriteString(line)
		c.mu.Unlock()
		if err != nil {
			return
		}
		c.lines <- strings.TrimSuffix(line, "\n")
	}
}

// Conn returns the session side of the transport.
func (c *Child) Conn() io.ReadWriteCloser { return conn{c} }

// Print writes s as child output. Writes after the session closed are
// dropped.
func (c *Child) Print(s string) {
	_, _ = io.WriteString(c.outW, s)
}

// Exit closes the child's output, which the session sees as end of stream.
func (c *Child) Exit() {
	_ = c.outW.Close()
}

// ReadLine returns the next newline-terminated reply without the newline.
func (c *Child) ReadLine(timeout time.Duration) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

// Received returns every byte the session has written so far.
func (c *Child) Received() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received.String()
}

// Closes reports how many times the session closed the transport.
func (c *Child) Closes() int { return int(c.closes.Load()) }

type conn struct{ c *Child }

func (x conn) Read(p []byte) (int, error)  { return x.c.outR.Read(p) }
func (x conn) Write(p []byte) (int, error) { return x.c.inW.Write(p) }

func (x conn) Close() error {
	x.c.closes.Add(1)
	_ = x.c.inW.Close()
	return x.c.outR.Close()
}
