package request

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackBuilderForcedArgs(t *testing.T) {
	// Make_cb(f, "x", 20) where Make_cb forces (int) defaulting to 10 -
	// invocation passes (10, "x", 20) to f.
	makeCB := MakeCallbackBuilder(10)

	var got []any
	f := func(args []any) { got = args }

	cb := makeCB(f, "x", 20)
	cb.Invoke()

	require.Equal(t, []any{10, "x", 20}, got)
}

func TestCallbackArgRewrite(t *testing.T) {
	var got int
	cb := NewCallback(func(args []any) { got = args[0].(int) }, 1)
	*cb.Arg(0) = 42
	cb.Invoke()
	require.Equal(t, 42, got)
}

func TestCallbackEqualIdentity(t *testing.T) {
	cb1 := NewCallback(func([]any) {})
	cb2 := NewCallback(func([]any) {})
	require.True(t, cb1.Equal(cb1))
	require.False(t, cb1.Equal(cb2))
}

func TestNilCallbackInvokeIsNoop(t *testing.T) {
	var cb *Callback
	require.NotPanics(t, func() { cb.Invoke() })
}
