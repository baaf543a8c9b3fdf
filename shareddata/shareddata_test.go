//go:build linux

package shareddata

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArbiterNameSanitizesAndTruncates(t *testing.T) {
	got := ArbiterName("/dev/ttyUSB0")
	want := "vsm-serial-port-arbiter-_dev_ttyUSB0"
	if got != want {
		t.Fatalf("ArbiterName = %q, want %q", got, want)
	}

	long := ArbiterName(strings.Repeat("x", 200))
	if len(long) != 100 {
		t.Fatalf("expected truncation to 100 chars, got %d", len(long))
	}
}

func TestAcquireCreatedThenOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter")
	sd, err := Open(path, 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sd.Close()

	res, err := sd.Acquire(context.Background())
	if err != nil || res != AcquireResultOKCreated {
		t.Fatalf("first Acquire = %v, %v", res, err)
	}
	copy(sd.Region(), []byte("hello"))
	if err := sd.Release(true); err != nil {
		t.Fatalf("Release: %v", err)
	}

	res, err = sd.Acquire(context.Background())
	if err != nil || res != AcquireResultOK {
		t.Fatalf("second Acquire = %v, %v", res, err)
	}
	if string(sd.Region()[:5]) != "hello" {
		t.Fatalf("region = %q", sd.Region()[:5])
	}
	if err := sd.Release(true); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestAlreadyAcquiredReturnsDirectly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter")
	sd, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sd.Close()

	if _, err := sd.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	res, err := sd.Acquire(context.Background())
	if err != nil || res != AcquireResultAlreadyAcquired {
		t.Fatalf("second Acquire = %v, %v", res, err)
	}
	if err := sd.Release(true); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestSecondClientWaitsThenAcquires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter")
	a, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()
	b, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	if _, err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("a.Acquire: %v", err)
	}

	done := make(chan AcquireResult, 1)
	errs := make(chan error, 1)
	go func() {
		res, err := b.Acquire(context.Background())
		errs <- err
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("b acquired before a released")
	case <-time.After(200 * time.Millisecond):
	}

	if err := a.Release(true); err != nil {
		t.Fatalf("a.Release: %v", err)
	}

	select {
	case res := <-done:
		if err := <-errs; err != nil {
			t.Fatalf("b.Acquire error: %v", err)
		}
		if res != AcquireResultOK {
			t.Fatalf("b Acquire = %v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("b never acquired")
	}
	if err := b.Release(true); err != nil {
		t.Fatalf("b.Release: %v", err)
	}
}

func TestAcquireCanceledWhileWaiting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter")
	a, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()
	b, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	if _, err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("a.Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := b.Acquire(ctx)
	if err == nil || res != AcquireResultCanceled {
		t.Fatalf("b.Acquire = %v, %v, want Canceled", res, err)
	}

	if err := a.Release(true); err != nil {
		t.Fatalf("a.Release: %v", err)
	}
}

func TestReopenValidatesVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter")
	a, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()

	b, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()
}
