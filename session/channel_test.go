package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshexec/internal/engine/enginetest"
	"sshexec/internal/errors"
)

// openExecuted opens a channel on h and executes a command on it.
func openExecuted(t *testing.T, f *fixture, h *enginetest.Channel) *Channel {
	t.Helper()
	f.eng.NextChannels = append(f.eng.NextChannels, h)
	ch, err := f.s.OpenChannel()
	require.NoError(t, err)
	require.NoError(t, ch.Execute("true"))
	return ch
}

type recorder struct {
	events []Event
}

func (r *recorder) on(ch *Channel, streams ...Stream) {
	for _, s := range streams {
		ch.On(s, func(e Event) {
			e.Data = append([]byte(nil), e.Data...)
			r.events = append(r.events, e)
		})
	}
}

func (r *recorder) data(stream Stream) string {
	var out []byte
	for _, e := range r.events {
		if e.Stream == stream {
			out = append(out, e.Data...)
		}
	}
	return string(out)
}

func (r *recorder) count(stream Stream) int {
	n := 0
	for _, e := range r.events {
		if e.Stream == stream {
			n++
		}
	}
	return n
}

func TestExecute_Transitions(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().Script("exec", enginetest.Block(2))
	f.eng.NextChannels = []*enginetest.Channel{h}

	ch, err := f.s.OpenChannel()
	require.NoError(t, err)
	require.Equal(t, Open, ch.State())

	require.NoError(t, ch.Execute("uptime"))
	assert.Equal(t, Executing, ch.State())
	assert.Equal(t, 2, f.w.Count())

	h.Feed(Primary, "x")
	_, err = ch.AttemptRead()
	require.NoError(t, err)
	assert.Equal(t, Draining, ch.State())
}

func TestClose_Twice(t *testing.T) {
	for _, executed := range []bool{false, true} {
		f := authenticated(newFixture(t))
		h := enginetest.NewChannel().Script("close", enginetest.Block(1))
		f.eng.NextChannels = []*enginetest.Channel{h}
		ch, err := f.s.OpenChannel()
		require.NoError(t, err)
		if executed {
			require.NoError(t, ch.Execute("true"))
		}

		require.NoError(t, ch.Close())
		assert.True(t, ch.Closed())
		assert.Equal(t, LocallyClosed, ch.State())
		// One would-block retry, then done.
		sent := h.Called("close")
		assert.Equal(t, 2, sent)

		for i := 0; i < 2; i++ {
			assert.True(t, errors.Is(ch.Close(), errors.ErrDoubleClose))
		}
		assert.Equal(t, sent, h.Called("close"), "a closed channel makes no engine call")
	}
}

func TestClose_AfterWait(t *testing.T) {
	f := authenticated(newFixture(t))
	ch := openExecuted(t, f, enginetest.NewChannel().SetEOF())

	require.NoError(t, ch.Wait())
	assert.True(t, errors.Is(ch.Close(), errors.ErrDoubleClose))
}

func TestClose_FailureLeavesChannelOpen(t *testing.T) {
	f := authenticated(newFixture(t))
	want := errors.Engine("channel-close", errors.ErrorSocketSend, "")
	h := enginetest.NewChannel().Script("close", enginetest.Fail(want))
	ch := openExecuted(t, f, h)

	assert.True(t, errors.Is(ch.Close(), want))
	assert.False(t, ch.Closed())
	assert.NoError(t, ch.Close())
}

func TestWait_ExitStatusOncePerWait(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().SetEOF().Script("wait-closed", enginetest.Block(2))
	h.Exit = 5
	ch := openExecuted(t, f, h)

	var got []int
	ch.OnExitStatus(func(s int) { got = append(got, s) })

	require.NoError(t, ch.Wait())
	assert.Equal(t, []int{5}, got)
	assert.Equal(t, RemoteClosed, ch.State())
	status, ok := ch.ExitStatus()
	assert.True(t, ok)
	assert.Equal(t, 5, status)

	require.NoError(t, ch.Wait())
	assert.Equal(t, []int{5, 5}, got)
	assert.Equal(t, 1, h.Called("close"), "a second Wait must not close again")
}

func TestWait_NoCallbackOnFailure(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().SetEOF().Script("wait-closed", enginetest.Fail(
		errors.Engine("channel-wait-closed", errors.ErrorSocketDisconnect, "")))
	ch := openExecuted(t, f, h)

	fired := 0
	ch.OnExitStatus(func(int) { fired++ })

	require.Error(t, ch.Wait())
	assert.Zero(t, fired)
	_, ok := ch.ExitStatus()
	assert.False(t, ok)
}

func TestWait_DrainsBeforeClosing(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().Feed(Primary, "fo", "o\n").SetEOF()
	ch := openExecuted(t, f, h)

	var r recorder
	r.on(ch, Primary, Extended)

	require.NoError(t, ch.Wait())
	assert.Equal(t, "foo\n", r.data(Primary))
	assert.Zero(t, r.count(Extended))

	last := h.Calls[len(h.Calls)-3:]
	assert.Equal(t, []string{"close", "wait-closed", "exit-status"}, last)
}

func TestWait_ParksWhenIdle(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel()
	ch := openExecuted(t, f, h)

	f.w.OnWait = func(n int) {
		if n == 1 {
			h.Feed(Primary, "late\n").SetEOF()
		}
	}
	var r recorder
	r.on(ch, Primary)

	require.NoError(t, ch.Wait())
	assert.Equal(t, "late\n", r.data(Primary))
	assert.Equal(t, 1, f.w.Count())
}

func TestWait_NeverExecuted(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel()
	f.eng.NextChannels = []*enginetest.Channel{h}
	ch, err := f.s.OpenChannel()
	require.NoError(t, err)

	require.NoError(t, ch.Wait())
	assert.Zero(t, h.Called("read-primary"))
	assert.Equal(t, RemoteClosed, ch.State())
}

// ── AttemptRead ──────────────────────────────────────────────────────

func TestAttemptRead_PrimaryBeforeExtended(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().
		Feed(Extended, "e1").
		Feed(Primary, "p1", "p2")
	ch := openExecuted(t, f, h)

	var r recorder
	r.on(ch, Primary, Extended)

	more, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.True(t, more)

	require.Len(t, r.events, 3)
	assert.Equal(t, "p1", string(r.events[0].Data))
	assert.Equal(t, "p2", string(r.events[1].Data))
	assert.Equal(t, Extended, r.events[2].Stream)
	assert.Equal(t, "e1", string(r.events[2].Data))
}

func TestAttemptRead_FalseAtEOF(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().SetEOF()
	ch := openExecuted(t, f, h)

	more, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Zero(t, h.Called("read-primary"))
}

func TestAttemptRead_WouldBlockEndsPassWithoutWaiting(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().FeedBlock(Primary).Feed(Primary, "late")
	ch := openExecuted(t, f, h)

	var r recorder
	r.on(ch, Primary)

	more, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Empty(t, r.events)
	assert.Equal(t, 1, h.Called("read-extended"), "extended is tried every pass")
	assert.Zero(t, f.w.Count())

	_, err = ch.AttemptRead()
	require.NoError(t, err)
	assert.Equal(t, "late", r.data(Primary))
}

func TestAttemptRead_WouldBlockThroughError(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().
		FeedErr(Primary, errors.Engine("channel-read", errors.ErrorEagain, "")).
		Feed(Extended, "err")
	ch := openExecuted(t, f, h)

	var r recorder
	r.on(ch, Extended)

	more, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "err", r.data(Extended))
}

func TestAttemptRead_ErrorPropagates(t *testing.T) {
	f := authenticated(newFixture(t))
	want := errors.Engine("channel-read", errors.ErrorSocketRecv, "")
	ch := openExecuted(t, f, enginetest.NewChannel().FeedErr(Primary, want))

	more, err := ch.AttemptRead()
	assert.False(t, more)
	assert.True(t, errors.Is(err, want))
	assert.EqualValues(t, 1, f.m.ErrorCount())
}

func TestAttemptRead_DropsWithoutCallback(t *testing.T) {
	f := authenticated(newFixture(t))
	h := enginetest.NewChannel().Feed(Primary, "lost")
	ch := openExecuted(t, f, h)

	_, err := ch.AttemptRead()
	require.NoError(t, err)

	var got []byte
	ch.OnData(func(b []byte) { got = append(got, b...) })
	h.Feed(Primary, "seen")
	_, err = ch.AttemptRead()
	require.NoError(t, err)

	assert.Equal(t, "seen", string(got), "data is never buffered for late callbacks")
	assert.EqualValues(t, 8, f.m.PrimaryBytes())
}

func TestAttemptRead_ChunkSize(t *testing.T) {
	f := authenticated(newFixture(t))
	f.s.readChunk = 2
	ch := openExecuted(t, f, enginetest.NewChannel().Feed(Primary, "abcdef"))

	var chunks []string
	ch.OnData(func(b []byte) { chunks = append(chunks, string(b)) })

	_, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cd", "ef"}, chunks)
}

// ── Callbacks ────────────────────────────────────────────────────────

func TestOn_LastRegistrationWins(t *testing.T) {
	f := authenticated(newFixture(t))
	ch := openExecuted(t, f, enginetest.NewChannel().Feed(Primary, "x"))

	first, second := 0, 0
	ch.OnData(func([]byte) { first++ })
	ch.OnData(func([]byte) { second++ })

	_, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestOn_NilClearsAndUnknownIgnored(t *testing.T) {
	f := authenticated(newFixture(t))
	ch := openExecuted(t, f, enginetest.NewChannel().Feed(Primary, "x"))

	called := false
	ch.OnData(func([]byte) { called = true })
	ch.OnData(nil)
	ch.On(Stream(7), func(Event) { called = true })

	_, err := ch.AttemptRead()
	require.NoError(t, err)
	assert.False(t, called)
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Open:          "open",
		Executing:     "executing",
		Draining:      "draining",
		LocallyClosed: "locally-closed",
		RemoteClosed:  "remote-closed",
		State(42):     "state(42)",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}
