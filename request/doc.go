// Package request implements the Request/Completion execution framework
// that underlies every processor in the VSM core: a Request moves between
// a processing Container and a completion Container, both drained by one
// or more Workers multiplexed through a shared Waiter. Every asynchronous
// method in the rest of this module returns an *OperationWaiter built on
// top of a Request.
//
// The design is grounded on the teacher's github.com/joeycumines/go-eventloop
// reactor: a Waiter is the channel-based analogue of the Loop's wake
// mechanism (fastWakeupCh for the no-IO case), and a Worker is the
// analogue of the Loop goroutine itself, generalized to drain more than
// one queue.
package request
