// Package fileproc implements the file processor (spec.md §3/§4.5 C7):
// asynchronous, per-stream-serialized I/O over files, serial ports, and
// named pipes, plus advisory file locking.
//
// Per-stream serialization is implemented with a single worker
// goroutine per open Stream that drains a FIFO of queued operations -
// the Go equivalent of the original's op_mutex-guarded read_queue/
// write_queue pushed through one Native_handle.
package fileproc
