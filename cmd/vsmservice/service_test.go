package main

import "testing"

func TestServiceActionSetValidatesVerb(t *testing.T) {
	var a serviceAction
	if err := a.Set("start"); err != nil {
		t.Fatalf("Set(start): %v", err)
	}
	if a != serviceActionStart {
		t.Fatalf("got %q", a)
	}
	if err := a.Set("bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized action")
	}
}

func TestNewServiceCommandRejectsMissingAction(t *testing.T) {
	cmd := newServiceCommand()
	serviceActionFlag = ""
	cmd.SetArgs(nil)
	if err := cmd.RunE(cmd, nil); err == nil {
		t.Fatal("expected an error when --service is unset")
	}
}
