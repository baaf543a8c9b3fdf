// Package reactor implements the socket processor (spec.md §3/§4.4 C6):
// TCP/UDP stream construction, connect/listen/accept, and UDP
// multi-peer demultiplexing with a per-substream packet cache.
//
// The original SDK drives every socket through one thread blocked in
// select()/epoll_wait(), dispatching readiness back onto request
// completion contexts. Go's net package already puts a netpoller
// underneath every net.Conn, so the idiomatic port swaps the manual
// reactor loop for goroutines doing blocking calls: one per Connect,
// Listen, Accept or BindUDP call, plus one drain goroutine per direction
// for each Stream's queued reads and writes. Every operation still
// returns an Operation_waiter whose Request (package request, C1-C4) is
// completed when the operation finishes, and Close aborts everything in
// flight. There is no completion-context parameter: each handler runs
// directly on the goroutine that performed the operation.
package reactor
