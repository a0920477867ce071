package bypass

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func register(c *Context, path string, e Entries) {
	c.opts.Loader.(*StaticLoader).Register(path, func() Entries { return e })
}

func readVersion(t *testing.T, c *Context, fd int) string {
	t.Helper()
	buf := make([]byte, 8)
	n, err := c.Read(fd, buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestSwapCarriesToken(t *testing.T) {
	m1, m2 := &fakeModule{version: "v1"}, &fakeModule{version: "v2"}
	c := newTestContext(t, m1, m2)
	first := c.Active()
	st := m1.state()
	fd, err := c.Creat(testMount+"/kept", 0o644)
	require.NoError(t, err)

	require.NoError(t, c.Swap(Update{Path: "v2", Version: "v2"}))
	assert.Equal(t, "v2", c.Version())
	assert.NotEqual(t, first.ID, c.Active().ID)
	assert.False(t, first.Running())
	assert.EqualValues(t, 1, m1.flushes.Load())
	assert.EqualValues(t, 1, m1.stops.Load())
	require.Len(t, m2.tokens, 1)
	assert.Same(t, st, m2.tokens[0])

	// the descriptor opened under v1 is served by v2
	assert.True(t, c.Namespace().ManagedFD(fd))
	assert.Equal(t, "v2", readVersion(t, c, fd))
	require.NoError(t, c.Close(fd))
	assert.GreaterOrEqual(t, c.Guard().Writes(), uint64(2))
}

func TestSwapLoadFailureKeepsActive(t *testing.T) {
	m1 := &fakeModule{version: "v1"}
	c := newTestContext(t, m1)
	fd, err := c.Creat(testMount+"/kept", 0o644)
	require.NoError(t, err)
	err = c.Swap(Update{Path: "absent", Version: "v9"})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "absent", le.Path)
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.Equal(t, "v1", c.Version())
	assert.Zero(t, m1.stops.Load())

	// calls after the failure still reach v1
	assert.Equal(t, "v1", readVersion(t, c, fd))
	nfd, err := c.Open(testMount+"/kept", unix.O_RDONLY, 0)
	require.NoError(t, err)
	assert.Contains(t, m1.state().Calls(), "openat "+testMount+"/kept")
	require.NoError(t, c.Close(nfd))

	register(c, "partial", Entries{Start: func([]byte, *Sys, Token) (Client, error) { return nil, nil }})
	err = c.Swap(Update{Path: "partial", Version: "v9"})
	assert.ErrorIs(t, err, ErrMissingEntry)
	assert.Equal(t, "v1", c.Version())
	assert.Zero(t, m1.stops.Load())
	assert.Equal(t, "v1", readVersion(t, c, fd))
	require.NoError(t, c.Close(fd))
}

func TestSwapStartFailureRestartsPrevious(t *testing.T) {
	boom := errors.New("boom")
	m1, m2 := &fakeModule{version: "v1"}, &fakeModule{version: "v2", failStart: boom}
	c := newTestContext(t, m1, m2)
	st := m1.state()
	fd, err := c.Creat(testMount+"/kept", 0o644)
	require.NoError(t, err)

	err = c.Swap(Update{Path: "v2", Version: "v2"})
	var se *StartError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "v2", se.Version)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, "v1", c.Version())
	assert.EqualValues(t, 2, m1.starts.Load())
	require.Len(t, m1.tokens, 2)
	assert.Nil(t, m1.tokens[0])
	assert.Same(t, st, m1.tokens[1])
	assert.Same(t, st, m2.tokens[0])
	assert.Equal(t, "v1", readVersion(t, c, fd))
	require.NoError(t, c.Close(fd))
}

func TestSwapStartMisbehaviour(t *testing.T) {
	c := newTestContext(t, &fakeModule{version: "v1"})
	noop := func() Token { return nil }
	register(c, "panics", Entries{
		Start:     func([]byte, *Sys, Token) (Client, error) { panic("start exploded") },
		Stop:      noop,
		FlushLogs: func() {},
	})
	register(c, "empty", Entries{
		Start:     func([]byte, *Sys, Token) (Client, error) { return nil, nil },
		Stop:      noop,
		FlushLogs: func() {},
	})

	err := c.Swap(Update{Path: "panics", Version: "v2"})
	var se *StartError
	require.ErrorAs(t, err, &se)
	assert.ErrorContains(t, err, "start exploded")
	assert.Equal(t, "v1", c.Version())

	err = c.Swap(Update{Path: "empty", Version: "v3"})
	assert.ErrorIs(t, err, ErrNilClient)
	assert.Equal(t, "v1", c.Version())
}

func TestSwapStopPanicYieldsNilToken(t *testing.T) {
	m1, m2 := &fakeModule{version: "v1", panicStop: true}, &fakeModule{version: "v2"}
	c := newTestContext(t, m1, m2)
	require.NoError(t, c.Swap(Update{Path: "v2", Version: "v2"}))
	require.Len(t, m2.tokens, 1)
	assert.Nil(t, m2.tokens[0])
	assert.NotSame(t, m1.state(), m2.state())
}

func TestSwapUnderLoad(t *testing.T) {
	m1, m2 := &fakeModule{version: "v1"}, &fakeModule{version: "v2"}
	c := newTestContext(t, m1, m2)
	fd, err := c.Creat(testMount+"/busy", 0o644)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var readers errgroup.Group
	for i := 0; i < 100; i++ {
		readers.Go(func() error {
			buf := make([]byte, 8)
			for ctx.Err() == nil {
				n, err := c.Read(fd, buf)
				if err != nil {
					return err
				}
				if v := string(buf[:n]); v != "v1" && v != "v2" {
					return fmt.Errorf("read served by %q", v)
				}
			}
			return nil
		})
	}
	for i := 0; i < 20; i++ {
		v := "v2"
		if i%2 == 1 {
			v = "v1"
		}
		require.NoError(t, c.Swap(Update{Path: v, Version: v}))
	}
	cancel()
	require.NoError(t, readers.Wait())
	assert.Zero(t, c.Guard().Readers())
	assert.Equal(t, "v1", c.Version())
	assert.Equal(t, "v1", readVersion(t, c, fd))
	require.NoError(t, c.Close(fd))
}

func TestReaddirSnapshotAcrossSwap(t *testing.T) {
	m1, m2 := &fakeModule{version: "v1"}, &fakeModule{version: "v2"}
	c := newTestContext(t, m1, m2)
	for _, n := range []string{"a", "b", "c"} {
		fd, err := c.Creat(testMount+"/"+n, 0o644)
		require.NoError(t, err)
		require.NoError(t, c.Close(fd))
	}
	d, err := c.Opendir(testMount)
	require.NoError(t, err)
	assert.True(t, d.Managed())
	assert.Same(t, c.Active(), d.Owner())

	first, err := c.Readdir(d)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, c.Swap(Update{Path: "v2", Version: "v2"}))

	names := []string{first.Name}
	for {
		e, err := c.Readdir(d)
		require.NoError(t, err)
		if e == nil {
			break
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.NotSame(t, c.Active(), d.Owner())

	require.NoError(t, c.Closedir(d))
	assert.False(t, c.Namespace().ManagedFD(d.Fd()))
	assert.Equal(t, unix.EBADF, c.Closedir(d))
	_, err = c.Readdir(d)
	assert.Equal(t, unix.EBADF, err)
}

func TestShutdown(t *testing.T) {
	m1 := &fakeModule{version: "v1"}
	c := newTestContext(t, m1)
	c.FlushLogs()
	assert.EqualValues(t, 1, m1.flushes.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Nil(t, c.Active())
	assert.EqualValues(t, 2, m1.flushes.Load())
	assert.EqualValues(t, 1, m1.stops.Load())
	require.NoError(t, c.Shutdown(ctx))

	_, err := c.Open(testMount+"/after", unix.O_RDONLY, 0)
	assert.Equal(t, unix.ENOENT, err)
}
