package rtos

import (
	"fmt"
	"log"
)

// Printk is a non-blocking logger for the RT hot path: the teacher repo
// logs straight to fmt.Printf, which is fine off the RT thread but would
// let a slow terminal stall the acquisition loop. Printk buffers lines on
// a channel and drains them from a background goroutine; a full buffer
// silently drops the line rather than block the producer, the same
// overrun-and-continue policy spec.md §5 applies to the AI FIFO.
type Printk struct {
	lines  chan string
	done   chan struct{}
	logger *log.Logger
}

// NewPrintk starts the draining goroutine. backlog bounds how many
// pending lines may queue before new ones are dropped.
func NewPrintk(logger *log.Logger, backlog int) *Printk {
	if backlog <= 0 {
		backlog = 64
	}
	p := &Printk{
		lines:  make(chan string, backlog),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.run()
	return p
}

func (p *Printk) run() {
	defer close(p.done)
	for line := range p.lines {
		p.logger.Print(line)
	}
}

// Printf formats and enqueues a line. It never blocks: if the backlog is
// full the line is dropped.
func (p *Printk) Printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	select {
	case p.lines <- line:
	default:
	}
}

// Close stops accepting new lines and waits for the drain goroutine to
// flush what's queued.
func (p *Printk) Close() {
	close(p.lines)
	<-p.done
}
