package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/ugcs/vsm-go/internal/vsmlog"
	"github.com/ugcs/vsm-go/reactor"
	"github.com/ugcs/vsm-go/request"
)

func newTestDiscovery(t *testing.T, port string) *Discovery {
	t.Helper()
	d := New(reactor.NewProcessor(vsmlog.Discard()), vsmlog.Discard())
	d.multicastGroup = "239.198.46.46"
	d.multicastPort = port
	d.enumerate = func() ([]string, error) { return nil, nil }
	d.Enable()
	t.Cleanup(d.Disable)
	return d
}

// TestAdvertiseSubscribeLoopback mirrors the two-instance scenario from
// the testing notes: one Discovery advertises a service type, a second
// subscribes to it over the loopback broadcast path (no real multicast
// routing required) and its handler fires within a few seconds.
func TestAdvertiseSubscribeLoopback(t *testing.T) {
	const port = "11991"
	advertiser := newTestDiscovery(t, port)
	subscriber := newTestDiscovery(t, port)

	var mu sync.Mutex
	var gotName, gotLocation string
	var gotAlive bool
	done := make(chan struct{})

	ctx := request.NewContainer("test subscriber", request.KindProcessor, request.NewWaiter())
	ctx.Enable()
	t.Cleanup(ctx.Disable)
	worker := request.NewWorker("test subscriber worker", ctx.Waiter(), ctx)
	worker.Start()
	t.Cleanup(worker.Stop)

	subscriber.Subscribe("my-service-type", func(serviceType, name, location, instanceID string, alive bool) {
		mu.Lock()
		defer mu.Unlock()
		gotName, gotLocation, gotAlive = name, location, alive
		select {
		case <-done:
		default:
			close(done)
		}
	}, ctx)

	time.Sleep(100 * time.Millisecond)
	advertiser.Advertise("my-service-type", "svc-instance-1", "tcp://{local_address}:7777")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber handler never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotName != "svc-instance-1" {
		t.Fatalf("name = %q", gotName)
	}
	if !gotAlive {
		t.Fatal("expected alive=true")
	}
	if gotLocation == "" {
		t.Fatal("expected a non-empty location")
	}
}

func TestUnadvertiseWithoutPriorAdvertiseIsNoop(t *testing.T) {
	d := newTestDiscovery(t, "11992")
	d.Unadvertise("never-advertised", "name", "loc")
}

func TestSearchWithoutSubscribeIsNoop(t *testing.T) {
	d := newTestDiscovery(t, "11993")
	d.Search("never-subscribed")
}
