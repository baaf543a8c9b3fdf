package fileproc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ugcs/vsm-go/iostream"
)

func TestModeParsing(t *testing.T) {
	m, err := ParseMode("rx")
	require.NoError(t, err)
	require.True(t, m.Read)
	require.True(t, m.ShouldNotExist)
	require.False(t, m.Write)

	_, err = ParseMode("a")
	require.Error(t, err)

	_, err = ParseMode("")
	require.Error(t, err)
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	p := NewProcessor()
	s, err := p.Open(path, "w+", true)
	require.NoError(t, err)
	defer s.Close(nil)

	wroteCh := make(chan struct{})
	ow := s.Write([]byte("hello-vsm"), iostream.OffsetNone, func(result iostream.Result) {
		require.Equal(t, iostream.ResultOK, result)
		close(wroteCh)
	})
	require.True(t, ow.Wait(2 * time.Second))
	<-wroteCh

	readCh := make(chan []byte, 1)
	s.Read(9, 9, iostream.Offset(0), func(data []byte, result iostream.Result) {
		require.Equal(t, iostream.ResultOK, result)
		readCh <- data
	})
	select {
	case got := <-readCh:
		require.Equal(t, "hello-vsm", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("read never completed")
	}
}

func TestOpenNotFound(t *testing.T) {
	p := NewProcessor()
	_, err := p.Open(filepath.Join(t.TempDir(), "missing"), "r", true)
	require.Error(t, err)
}

func TestLockUnlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lockme")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	p := NewProcessor()
	s, err := p.Open(path, "r+", true)
	require.NoError(t, err)
	defer s.Close(nil)

	var lockResult iostream.Result
	lw := s.Lock(func(result iostream.Result) { lockResult = result }, true)
	require.True(t, lw.Wait(2 * time.Second))
	require.Equal(t, iostream.ResultOK, lockResult)

	var unlockResult iostream.Result
	uw := s.Unlock(func(result iostream.Result) { unlockResult = result })
	require.True(t, uw.Wait(2 * time.Second))
	require.Equal(t, iostream.ResultOK, unlockResult)
}

func TestLockRejectsDoubleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lockme")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	p := NewProcessor()
	s, err := p.Open(path, "r+", true)
	require.NoError(t, err)
	defer s.Close(nil)

	first := s.Lock(nil, true)
	require.True(t, first.Wait(2 * time.Second))

	var secondResult iostream.Result
	second := s.Lock(func(result iostream.Result) { secondResult = result }, true)
	require.True(t, second.Wait(2 * time.Second))
	require.Equal(t, iostream.ResultLockError, secondResult)
}
