package session

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/term-deck/internal/shm"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

func TestSessionEchoesOutput(t *testing.T) {
	s := startSession(t)

	require.NoError(t, s.WriteInput([]byte("echo hello-$((40+2))\n")))
	waitForScreen(t, s, "hello-42")

	sc, err := s.Screen()
	require.NoError(t, err)
	assert.Equal(t, 80, sc.Cols)
	assert.Equal(t, 24, sc.Rows)
	assert.False(t, sc.AltScreen)
	assert.NotZero(t, sc.Sequence)
}

func TestSessionPublishesToSharedMemory(t *testing.T) {
	s := startSession(t)

	rd, err := shm.Open(s.ShmPath())
	require.NoError(t, err)
	defer rd.Close()

	maxCols, maxRows := rd.Bounds()
	assert.Equal(t, 200, maxCols)
	assert.Equal(t, 100, maxRows)
	assert.Equal(t, shm.ErrorModeNone, rd.ErrorMode())

	require.NoError(t, s.WriteInput([]byte("echo shm-$((3+4))\n")))
	require.Eventually(t, func() bool {
		snap, ok := rd.TryRead()
		return ok && snap.Width == 80 && strings.Contains(snap.Text(), "shm-7")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSessionSubscribe(t *testing.T) {
	s := startSession(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.WriteInput([]byte("echo sub-$((1+1))\n")))

	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(got.String(), "sub-2") {
		select {
		case chunk, ok := <-ch:
			require.True(t, ok, "subscription closed early")
			got.Write(chunk)
		case <-deadline:
			t.Fatalf("no output received, got %q", got.String())
		}
	}

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Subscribers)
}

func TestSessionCommandBlocks(t *testing.T) {
	s := startSession(t)
	blocks, cancel := s.SubscribeBlocks()
	defer cancel()

	script := `printf '\033]133;A\007$ \033]133;B\007\033]133;C\007block-out\n\033]133;D;3\007'` + "\n"
	require.NoError(t, s.WriteInput([]byte(script)))

	require.Eventually(t, func() bool {
		bs, err := s.Blocks()
		return err == nil && len(bs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	bs, err := s.Blocks()
	require.NoError(t, err)
	b := bs[0]
	require.NotNil(t, b.ExitCode())
	assert.Equal(t, 3, *b.ExitCode())
	assert.True(t, b.IsFailure())

	out, ok, err := s.LastOutput()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, out, "block-out")

	select {
	case got := <-blocks:
		assert.Equal(t, b.ID, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("block notification not delivered")
	}

	at, err := s.BlockAtLine(b.StartRow)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, b.ID, at.ID)
}

func TestSessionAnnouncesEveryBlockInOneChunk(t *testing.T) {
	s := startSession(t)
	blocks, cancel := s.SubscribeBlocks()
	defer cancel()

	cycle := `\033]133;A\007$ \033]133;B\007\033]133;C\007out\n\033]133;D;%d\007`
	script := "printf '" + fmt.Sprintf(cycle, 0) + fmt.Sprintf(cycle, 1) + "'\n"
	require.NoError(t, s.WriteInput([]byte(script)))

	var got []*zones.CommandBlock
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case b := <-blocks:
			got = append(got, b)
		case <-timeout:
			t.Fatalf("received %d block notifications, want 2", len(got))
		}
	}
	assert.Less(t, got[0].ID, got[1].ID)
	require.NotNil(t, got[0].ExitCode())
	require.NotNil(t, got[1].ExitCode())
	assert.Equal(t, 0, *got[0].ExitCode())
	assert.Equal(t, 1, *got[1].ExitCode())
}

func TestSnapshotAndSubscribeDeliversChunksOnce(t *testing.T) {
	s := startSession(t)

	require.NoError(t, s.WriteInput([]byte("echo once-$((3*3))\n")))
	sc, output, cancel, err := s.SnapshotAndSubscribe()
	require.NoError(t, err)
	defer cancel()

	var streamed strings.Builder
	count := func() int {
		return strings.Count(strings.Join(sc.Lines, "\n"), "once-9") +
			strings.Count(streamed.String(), "once-9")
	}
	deadline := time.After(5 * time.Second)
	for count() == 0 {
		select {
		case chunk := <-output:
			streamed.Write(chunk)
		case <-deadline:
			t.Fatal("output never arrived in the screen or the stream")
		}
	}

	// Drain anything still queued; the marker must not show up again.
	settle := time.After(200 * time.Millisecond)
	for done := false; !done; {
		select {
		case chunk := <-output:
			streamed.Write(chunk)
		case <-settle:
			done = true
		}
	}
	assert.Equal(t, 1, count())
}

func TestSessionResize(t *testing.T) {
	s := startSession(t)

	require.NoError(t, s.Resize(100, 30))
	cols, rows := s.Size()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 30, rows)

	sc, err := s.Screen()
	require.NoError(t, err)
	assert.Equal(t, 100, sc.Cols)
	assert.Equal(t, 30, sc.Rows)

	require.NoError(t, s.WriteInput([]byte("stty size\n")))
	waitForScreen(t, s, "30 100")

	assert.ErrorIs(t, s.Resize(201, 10), shm.ErrDimensionsTooLarge)
	assert.ErrorIs(t, s.Resize(0, 10), ErrInvalidSize)
	cols, rows = s.Size()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 30, rows)
}

func TestSessionExit(t *testing.T) {
	s := startSession(t)
	rd, err := shm.Open(s.ShmPath())
	require.NoError(t, err)
	defer rd.Close()
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.WriteInput([]byte("exit 5\n")))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not exit")
	}
	assert.True(t, s.Exited())
	assert.True(t, s.Summary().Exited)
	assert.Equal(t, shm.ErrorModeUnavailable, rd.ErrorMode())
	assert.ErrorIs(t, s.WriteInput([]byte("x")), ErrSessionExited)

	require.Eventually(t, func() bool {
		code, ok := s.ExitCode()
		return ok && code == 5
	}, 5*time.Second, 20*time.Millisecond)

	for range ch {
	}

	// The terminal stays readable after the shell is gone.
	_, err = s.Screen()
	assert.NoError(t, err)
}

func TestSessionCloseRemovesRegion(t *testing.T) {
	s := startSession(t)
	path := s.ShmPath()
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, s.WriteInput([]byte("x")), ErrSessionClosed)
	_, err = s.Screen()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Resize(90, 20), ErrSessionClosed)
}

func TestSessionClients(t *testing.T) {
	s := startSession(t)

	s.AttachClient("b")
	s.AttachClient("a")
	assert.Equal(t, []string{"a", "b"}, s.Clients())
	assert.Equal(t, 2, s.ClientCount())

	_, ok := s.DetachClient("a")
	assert.True(t, ok)
	_, ok = s.DetachClient("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Summary().Clients)
}
