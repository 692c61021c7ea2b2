package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/live"
	"github.com/interview-voice-lab/internal/transcript"
)

const waitFor = 2 * time.Second

type harness struct {
	m       *Manager
	dialer  *fakeDialer
	conn    *fakeConn
	mic     *fakeMic
	speaker *fakeSpeaker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn:    newFakeConn(),
		mic:     &fakeMic{},
		speaker: &fakeSpeaker{},
	}
	h.dialer = &fakeDialer{conn: h.conn}
	h.m = NewManager(Options{
		Dialer:     h.dialer,
		Microphone: h.mic,
		Speaker:    h.speaker,
		QueueSize:  8,
	})
	t.Cleanup(h.m.Disconnect)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Connect(context.Background(), Config{Model: "live-model", SystemInstruction: "interview me"}))
	require.Equal(t, StatusConnected, h.m.State().Status)
}

func pcmOfDuration(d time.Duration) string {
	n := int(d * audio.OutputSampleRate / time.Second)
	return base64.StdEncoding.EncodeToString(make([]byte, n*2))
}

func TestConnectOpensDevicesAndDials(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	st := h.m.State()
	assert.True(t, st.Connected)
	assert.NotEmpty(t, st.SessionID)
	assert.NoError(t, st.Err)
	assert.Equal(t, audio.OutputSampleRate, h.speaker.rate)
	assert.Equal(t, audio.CaptureConfig{SampleRate: 16000, Channels: 1, FrameSize: 4096, EchoCancellation: true}, h.mic.cfg)
	require.Len(t, h.dialer.cfgs, 1)
	assert.Equal(t, live.Config{Model: "live-model", SystemInstruction: "interview me"}, h.dialer.cfgs[0])
}

func TestConnectIsNoopWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	require.NoError(t, h.m.Connect(context.Background(), Config{Model: "other"}))
	assert.Equal(t, 1, h.dialer.callCount())
}

func TestTurnCommitsUserThenModel(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.conn.incoming <- live.Message{InputTranscript: "Hello"}
	h.conn.incoming <- live.Message{OutputTranscript: "Hi there"}
	require.Eventually(t, func() bool { return h.m.State().InProgress == "Hi there" }, waitFor, time.Millisecond)
	h.conn.incoming <- live.Message{TurnComplete: true}

	require.Eventually(t, func() bool { return len(h.m.State().Transcripts) == 2 }, waitFor, time.Millisecond)
	st := h.m.State()
	assert.Equal(t, transcript.RoleUser, st.Transcripts[0].Role)
	assert.Equal(t, "Hello", st.Transcripts[0].Text)
	assert.Equal(t, transcript.RoleModel, st.Transcripts[1].Role)
	assert.Equal(t, "Hi there", st.Transcripts[1].Text)
	assert.True(t, st.Transcripts[0].Before(st.Transcripts[1]))
	assert.Equal(t, "", st.InProgress)
}

func TestAudioScheduledBackToBack(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.conn.incoming <- live.Message{AudioData: pcmOfDuration(500 * time.Millisecond)}
	h.conn.incoming <- live.Message{AudioData: pcmOfDuration(300 * time.Millisecond)}

	require.Eventually(t, func() bool {
		s, _, _ := h.speaker.out.snapshot()
		return len(s) == 2
	}, waitFor, time.Millisecond)
	s, _, _ := h.speaker.out.snapshot()
	assert.Equal(t, time.Duration(0), s[0].Start)
	assert.Equal(t, 500*time.Millisecond, s[1].Start)
	assert.Equal(t, 800*time.Millisecond, s[1].End())
}

func TestInterruptFlushesPlaybackAndModelText(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.conn.incoming <- live.Message{AudioData: pcmOfDuration(time.Second), OutputTranscript: "Let me explain"}
	h.conn.incoming <- live.Message{InputTranscript: "wait"}
	h.conn.incoming <- live.Message{Interrupted: true}
	require.Eventually(t, func() bool {
		_, stopped, _ := h.speaker.out.snapshot()
		return len(stopped) == 1
	}, waitFor, time.Millisecond)
	assert.Equal(t, "", h.m.State().InProgress)

	h.conn.incoming <- live.Message{TurnComplete: true}
	require.Eventually(t, func() bool { return len(h.m.State().Transcripts) == 1 }, waitFor, time.Millisecond)
	e := h.m.State().Transcripts[0]
	assert.Equal(t, transcript.RoleUser, e.Role)
	assert.Equal(t, "wait", e.Text)

	// Scheduling restarts from the clock after a flush.
	h.conn.incoming <- live.Message{AudioData: pcmOfDuration(100 * time.Millisecond)}
	require.Eventually(t, func() bool {
		s, _, _ := h.speaker.out.snapshot()
		return len(s) == 2
	}, waitFor, time.Millisecond)
	s, _, _ := h.speaker.out.snapshot()
	assert.Equal(t, time.Duration(0), s[1].Start)
}

func TestDecodeErrorIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.conn.incoming <- live.Message{AudioData: "%%%", OutputTranscript: "still here"}
	require.Eventually(t, func() bool { return h.m.State().InProgress == "still here" }, waitFor, time.Millisecond)
	st := h.m.State()
	assert.True(t, st.Connected)
	assert.NoError(t, st.Err)
	assert.Equal(t, int64(1), h.m.Stats().DecodeErrors)
	s, _, _ := h.speaker.out.snapshot()
	assert.Empty(t, s)
}

func TestCapturedFramesSentInOrderWithVolume(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	for i := 1; i <= 3; i++ {
		frame := make([]float32, audio.FrameSize)
		for j := range frame {
			frame[j] = float32(i) / 100
		}
		require.True(t, h.mic.capture.push(frame))
	}
	require.Eventually(t, func() bool { return len(h.conn.sentPackets()) == 3 }, waitFor, time.Millisecond)
	for i, pkt := range h.conn.sentPackets() {
		assert.Equal(t, "audio/pcm;rate=16000", pkt.MimeType)
		samples, err := audio.DecodePCM(pkt.Data)
		require.NoError(t, err)
		assert.InDelta(t, float64(i+1)/100, samples[0], 1e-3)
	}
	// RMS 0.03 at gain 5.
	assert.InDelta(t, 0.15, h.m.State().Volume, 1e-3)
}

func TestFullQueueDropsFrames(t *testing.T) {
	h := newHarness(t)
	h.conn.sendGate = make(chan struct{})
	h.m.queueSize = 1
	h.connect(t)

	for i := 0; i < 20; i++ {
		h.mic.capture.push(make([]float32, 16))
	}
	require.Eventually(t, func() bool { return h.m.Stats().Dropped > 0 }, waitFor, time.Millisecond)
	assert.True(t, h.m.State().Connected)
	close(h.conn.sendGate)
}

func TestSendErrorsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.conn.mu.Lock()
	h.conn.closed = true
	h.conn.mu.Unlock()

	require.True(t, h.mic.capture.push(make([]float32, 16)))
	require.Eventually(t, func() bool { return h.m.Stats().Enqueued == 1 }, waitFor, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.m.State().Connected)
	assert.Equal(t, int64(0), h.m.Stats().Sent)
}

func TestDisconnectWithoutSessionIsNoop(t *testing.T) {
	m := NewManager(Options{Dialer: &fakeDialer{}, Microphone: &fakeMic{}, Speaker: &fakeSpeaker{}})
	m.Disconnect()
	m.Disconnect()
	st := m.State()
	assert.Equal(t, StatusIdle, st.Status)
	assert.False(t, st.Connected)
	assert.Equal(t, 0.0, st.Volume)
	assert.Equal(t, "", st.InProgress)
}

func TestDisconnectReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	require.True(t, h.mic.capture.push(ramp(0.5)))
	h.conn.incoming <- live.Message{InputTranscript: "first"}
	h.conn.incoming <- live.Message{TurnComplete: true}
	h.conn.incoming <- live.Message{AudioData: pcmOfDuration(time.Second), OutputTranscript: "partial"}
	require.Eventually(t, func() bool {
		st := h.m.State()
		return st.InProgress == "partial" && st.Volume > 0
	}, waitFor, time.Millisecond)

	h.m.Disconnect()

	st := h.m.State()
	assert.Equal(t, StatusClosed, st.Status)
	assert.False(t, st.Connected)
	assert.Equal(t, 0.0, st.Volume)
	assert.Equal(t, "", st.InProgress)
	assert.Len(t, st.Transcripts, 1)
	assert.NoError(t, st.Err)
	assert.True(t, h.conn.isClosed())
	assert.True(t, h.mic.capture.isClosed())
	_, stopped, closed := h.speaker.out.snapshot()
	assert.True(t, closed)
	assert.Len(t, stopped, 1)

	h.m.Disconnect()
	assert.Equal(t, StatusClosed, h.m.State().Status)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	first := h.m.State().SessionID
	h.m.Disconnect()

	h.dialer.conn = newFakeConn()
	h.conn = h.dialer.conn
	h.connect(t)
	assert.NotEqual(t, first, h.m.State().SessionID)
	assert.Equal(t, 2, h.dialer.callCount())
}

func TestDisconnectDuringConnectClosesLateSession(t *testing.T) {
	h := newHarness(t)
	h.dialer.entered = make(chan struct{})
	h.dialer.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.m.Connect(context.Background(), Config{Model: "m"}) }()
	<-h.dialer.entered
	assert.Equal(t, StatusConnecting, h.m.State().Status)

	h.m.Disconnect()
	close(h.dialer.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectAborted)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}
	assert.True(t, h.conn.isClosed(), "late session must be closed")
	assert.True(t, h.mic.capture.isClosed())
	_, _, closed := h.speaker.out.snapshot()
	assert.True(t, closed)

	st := h.m.State()
	assert.False(t, st.Connected)
	assert.Equal(t, StatusClosed, st.Status)
	assert.NoError(t, st.Err)
}

func TestDisconnectDuringConnectCancelsDial(t *testing.T) {
	h := newHarness(t)
	h.dialer.entered = make(chan struct{})
	h.dialer.release = make(chan struct{})
	h.dialer.honorCtx = true

	done := make(chan error, 1)
	go func() { done <- h.m.Connect(context.Background(), Config{Model: "m"}) }()
	<-h.dialer.entered
	h.m.Disconnect()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectAborted)
	case <-time.After(waitFor):
		t.Fatal("connect did not return after disconnect")
	}
	assert.NoError(t, h.m.State().Err)
	assert.True(t, h.mic.capture.isClosed())
}

func TestMicrophoneDeniedReleasesSpeaker(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errors.New("permission denied")

	err := h.m.Connect(context.Background(), Config{Model: "m"})
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "microphone", perr.Device)

	st := h.m.State()
	assert.Equal(t, StatusClosed, st.Status)
	assert.ErrorAs(t, st.Err, &perr)
	_, _, closed := h.speaker.out.snapshot()
	assert.True(t, closed)
	assert.Equal(t, 0, h.dialer.callCount())
}

func TestSpeakerFailureIsPermissionError(t *testing.T) {
	h := newHarness(t)
	h.speaker.err = errors.New("no output device")
	err := h.m.Connect(context.Background(), Config{Model: "m"})
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "speaker", perr.Device)
	assert.Nil(t, h.mic.capture)
}

func TestDialFailureReleasesDevices(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("handshake rejected")

	err := h.m.Connect(context.Background(), Config{Model: "m"})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StatusClosed, h.m.State().Status)
	assert.ErrorAs(t, h.m.State().Err, &cerr)
	assert.True(t, h.mic.capture.isClosed())
	_, _, closed := h.speaker.out.snapshot()
	assert.True(t, closed)

	// The caller may retry.
	h.dialer.err = nil
	h.connect(t)
	assert.NoError(t, h.m.State().Err)
}

func TestTransportErrorClosesSession(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.conn.recvErr <- errors.New("connection reset")

	require.Eventually(t, func() bool { return h.m.State().Status == StatusClosed }, waitFor, time.Millisecond)
	var cerr *ConnectionError
	assert.ErrorAs(t, h.m.State().Err, &cerr)
	require.Eventually(t, func() bool {
		_, _, closed := h.speaker.out.snapshot()
		return h.conn.isClosed() && h.mic.capture.isClosed() && closed
	}, waitFor, time.Millisecond)
}

func TestRemoteCloseRecordsNoError(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.conn.recvErr <- io.EOF

	require.Eventually(t, func() bool { return h.m.State().Status == StatusClosed }, waitFor, time.Millisecond)
	assert.NoError(t, h.m.State().Err)
	assert.False(t, h.m.State().Connected)
}

func TestSubscribeDeliversLatest(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.m.Subscribe()
	first := <-ch
	assert.Equal(t, StatusIdle, first.Status)

	h.connect(t)
	h.conn.incoming <- live.Message{OutputTranscript: "a"}
	h.conn.incoming <- live.Message{OutputTranscript: "b"}
	require.Eventually(t, func() bool { return h.m.State().InProgress == "ab" }, waitFor, time.Millisecond)

	var last Snapshot
	require.Eventually(t, func() bool {
		select {
		case last = <-ch:
		default:
		}
		return last.InProgress == "ab"
	}, waitFor, time.Millisecond)
	assert.True(t, last.Connected)

	cancel()
	cancel()
	for range ch {
		// drain until closed
	}
}

func ramp(v float32) []float32 {
	f := make([]float32, 64)
	for i := range f {
		f[i] = v
	}
	return f
}
