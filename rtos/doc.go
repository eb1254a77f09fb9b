// Package rtos abstracts the real-time-OS primitives the core depends on
// but does not own (spec.md C2): a high-resolution clock with absolute-time
// sleep, a periodic-task stop flag, a lock-free single-producer/
// single-consumer byte FIFO, and a non-blocking printk.
//
// None of this talks to an actual RTOS. In this module the "RT thread" is
// an ordinary goroutine; rtos supplies the same suspension-point discipline
// spec.md §5 requires (the only blocking call in the hot path is the
// end-of-iteration absolute sleep) so that swapping in a real RTLinux/Xenomai
// binding later only means reimplementing this package.
package rtos
