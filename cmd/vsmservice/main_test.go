package main

import (
	"testing"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Fatalf("exitCode(nil) = %d", got)
	}
	if got := exitCode(vsmerr.New(vsmerr.InvalidParam, "bad flag")); got != 2 {
		t.Fatalf("exitCode(InvalidParam) = %d", got)
	}
	if got := exitCode(vsmerr.New(vsmerr.Internal, "boom")); got != 1 {
		t.Fatalf("exitCode(Internal) = %d", got)
	}
}
