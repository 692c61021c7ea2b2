// Package session manages one realtime voice session between the local
// microphone and speaker and a remote conversational audio endpoint.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/live"
	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/internal/metrics"
	"github.com/interview-voice-lab/internal/playback"
	"github.com/interview-voice-lab/internal/transcript"
)

// DefaultQueueSize is the outbound frame queue length, about four seconds
// of 16 kHz audio in 4096-sample frames.
const DefaultQueueSize = 16

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config is the per-session configuration sent at connect time.
type Config struct {
	Model             string
	SystemInstruction string
	VoiceName         string
}

// Options wires the manager's collaborators. Dialer, Microphone and Speaker
// are required.
type Options struct {
	Dialer     live.Dialer
	Microphone audio.Microphone
	Speaker    audio.Speaker
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Session
	// QueueSize bounds outbound frames waiting to be sent.
	QueueSize int
	// Now stamps committed transcript entries.
	Now func() time.Time
}

// Snapshot is the observable state of the manager.
type Snapshot struct {
	Status      Status
	Connected   bool
	SessionID   string
	Volume      float64
	Transcripts []transcript.Entry
	InProgress  string
	Err         error
}

// Stats are lifetime counters, mostly for diagnostics and tests.
type Stats struct {
	Enqueued     int64
	Dropped      int64
	Sent         int64
	DecodeErrors int64
}

// Manager owns at most one live session at a time.
type Manager struct {
	dialer    live.Dialer
	mic       audio.Microphone
	speaker   audio.Speaker
	metrics   *metrics.Session
	queueSize int

	transcript *transcript.Accumulator

	mu            sync.Mutex
	status        Status
	gen           uint64
	lastErr       error
	volume        float64
	sessionID     string
	run           *run
	cancelConnect context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	enqueueCount   int64
	dropQueueCount int64
	sentCount      int64
	decodeErrCount int64
}

// run holds everything acquired for one connected session. It is torn down
// exactly once.
type run struct {
	id      string
	conn    live.Conn
	capture audio.Capture
	out     playback.Output
	sched   *playback.Scheduler
	sendCh  chan live.Packet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		dialer:     opts.Dialer,
		mic:        opts.Microphone,
		speaker:    opts.Speaker,
		metrics:    opts.Metrics,
		queueSize:  opts.QueueSize,
		transcript: transcript.NewAccumulator(opts.Now),
		subs:       make(map[int]chan Snapshot),
	}
	if m.metrics == nil {
		m.metrics = metrics.NewSession()
	}
	if m.queueSize <= 0 {
		m.queueSize = DefaultQueueSize
	}
	return m
}

// Connect opens the speaker, the microphone and the remote session, in that
// order, and returns once the handshake has completed. It is a no-op while
// a session is connecting or connected. Failures release everything
// acquired so far, are recorded in the snapshot, and are returned.
func (m *Manager) Connect(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	dialCtx, cancelDial := context.WithCancel(ctx)
	m.cancelConnect = cancelDial
	m.status = StatusConnecting
	m.lastErr = nil
	m.sessionID = uuid.NewString()
	sid := m.sessionID
	m.mu.Unlock()
	defer cancelDial()
	m.publish()

	runCtx, cancelRun := context.WithCancel(logging.WithFields(context.Background(), logging.SessionFields(sid, cfg.Model)...))
	logging.InfowCtx(runCtx, "session: connecting", "voice", cfg.VoiceName)

	out, err := m.speaker.Open(audio.OutputSampleRate)
	if err != nil {
		cancelRun()
		return m.connectFailed(runCtx, gen, &PermissionError{Device: "speaker", Err: err})
	}
	capture, err := m.mic.Open(runCtx, audio.DefaultCaptureConfig())
	if err != nil {
		cancelRun()
		closeQuietly(runCtx, "speaker", out)
		return m.connectFailed(runCtx, gen, &PermissionError{Device: "microphone", Err: err})
	}
	conn, err := m.dialer.Dial(dialCtx, live.Config{
		Model:             cfg.Model,
		SystemInstruction: cfg.SystemInstruction,
		VoiceName:         cfg.VoiceName,
	})
	if err != nil {
		cancelRun()
		closeQuietly(runCtx, "microphone", capture)
		closeQuietly(runCtx, "speaker", out)
		return m.connectFailed(runCtx, gen, &ConnectionError{Op: "connect", Err: err})
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		logging.InfowCtx(runCtx, "session: disconnected during handshake; closing new session")
		cancelRun()
		closeQuietly(runCtx, "remote session", conn)
		closeQuietly(runCtx, "microphone", capture)
		closeQuietly(runCtx, "speaker", out)
		m.metrics.Connects.WithLabelValues("aborted").Inc()
		return ErrConnectAborted
	}
	r := &run{
		id:      sid,
		conn:    conn,
		capture: capture,
		out:     out,
		sched:   playback.NewScheduler(out),
		sendCh:  make(chan live.Packet, m.queueSize),
		ctx:     runCtx,
		cancel:  cancelRun,
	}
	m.run = r
	m.status = StatusConnected
	m.cancelConnect = nil
	r.wg.Add(3)
	go m.captureLoop(r)
	go m.sendLoop(r)
	go m.receiveLoop(r)
	m.mu.Unlock()

	m.metrics.Connected.Set(1)
	m.metrics.Connects.WithLabelValues("ok").Inc()
	logging.InfowCtx(runCtx, "session: connected")
	m.publish()
	return nil
}

func (m *Manager) connectFailed(ctx context.Context, gen uint64, err error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.metrics.Connects.WithLabelValues("aborted").Inc()
		return ErrConnectAborted
	}
	m.status = StatusClosed
	m.lastErr = err
	m.cancelConnect = nil
	m.mu.Unlock()
	m.metrics.Connects.WithLabelValues("error").Inc()
	logging.WarnwCtx(ctx, "session: connect failed", "err", err)
	m.publish()
	return err
}

// Disconnect tears the session down: stop accepting frames, close the
// remote session, stop the microphone, wait for the processing goroutines,
// close the output, flush pending playback, then zero volume and the
// in-progress transcript. It is safe at any time, including during Connect.
// Committed transcript entries are kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	r := m.run
	m.run = nil
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.gen++
		m.status = StatusClosed
	}
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	m.mu.Unlock()

	if r != nil {
		r.stop(true)
		m.metrics.Connected.Set(0)
		logging.InfowCtx(r.ctx, "session: disconnected")
	}

	m.mu.Lock()
	m.volume = 0
	m.mu.Unlock()
	m.transcript.ResetPending()
	m.publish()
}

// fail ends r after a transport or device error observed by one of its
// goroutines. A nil err records a clean remote close.
func (m *Manager) fail(r *run, err error) {
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return
	}
	m.run = nil
	m.gen++
	m.status = StatusClosed
	m.lastErr = err
	m.volume = 0
	m.mu.Unlock()

	if err != nil {
		logging.WarnwCtx(r.ctx, "session: closed on error", "err", err)
	} else {
		logging.InfowCtx(r.ctx, "session: closed by remote")
	}
	// Called from r's own goroutines, so do not wait on r.wg.
	r.stop(false)
	m.metrics.Connected.Set(0)
	m.transcript.ResetPending()
	m.publish()
}

func (r *run) stop(wait bool) {
	r.once.Do(func() {
		r.cancel()
		closeQuietly(r.ctx, "remote session", r.conn)
		closeQuietly(r.ctx, "microphone", r.capture)
		if wait {
			r.wg.Wait()
		}
		closeQuietly(r.ctx, "speaker", r.out)
		if n := r.sched.Flush(); n > 0 {
			logging.DebugwCtx(r.ctx, "session: flushed pending playback", "buffers", n)
		}
	})
}

func closeQuietly(ctx context.Context, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logging.DebugwCtx(ctx, "session: close failed", "resource", what, "err", err)
	}
}

func (m *Manager) owns(r *run) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run == r
}

func (m *Manager) captureLoop(r *run) {
	defer r.wg.Done()
	frames := r.capture.Frames()
	for {
		select {
		case <-r.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if r.ctx.Err() == nil {
					m.fail(r, &PermissionError{Device: "microphone", Err: errors.New("capture stream ended")})
				}
				return
			}
			m.metrics.FramesCaptured.Inc()
			m.setVolume(r, audio.Volume(frame))
			pkt := audio.EncodeFrame(frame, audio.InputSampleRate)
			// Never block the capture path; a lost frame is tolerated.
			select {
			case r.sendCh <- pkt:
				atomic.AddInt64(&m.enqueueCount, 1)
			default:
				atomic.AddInt64(&m.dropQueueCount, 1)
				m.metrics.FramesDropped.Inc()
				logging.WarnwCtx(r.ctx, "session: dropping frame; send queue full", logging.FrameFields(len(frame), audio.InputSampleRate)...)
			}
		}
	}
}

func (m *Manager) setVolume(r *run, v float64) {
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return
	}
	m.volume = v
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) sendLoop(r *run) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case pkt := <-r.sendCh:
			if r.ctx.Err() != nil || !m.owns(r) {
				return
			}
			if err := r.conn.Send(r.ctx, pkt); err != nil {
				m.metrics.SendErrors.Inc()
				logging.DebugwCtx(r.ctx, "session: frame send failed", "err", err)
				continue
			}
			atomic.AddInt64(&m.sentCount, 1)
			m.metrics.FramesSent.Inc()
		}
	}
}

func (m *Manager) receiveLoop(r *run) {
	defer r.wg.Done()
	for {
		msg, err := r.conn.Receive(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				m.fail(r, nil)
			} else {
				m.fail(r, &ConnectionError{Op: "receive", Err: err})
			}
			return
		}
		m.handle(r, msg)
	}
}

// handle applies one server message: audio, then transcript fragments, then
// turn-complete, then interruption.
func (m *Manager) handle(r *run, msg live.Message) {
	if !m.owns(r) {
		return
	}
	if msg.AudioData != "" {
		samples, err := audio.DecodePCM(msg.AudioData)
		if err != nil {
			atomic.AddInt64(&m.decodeErrCount, 1)
			m.metrics.DecodeErrors.Inc()
			logging.WarnwCtx(r.ctx, "session: dropping server audio", "err", &DecodeError{Err: err})
		} else {
			b := r.sched.Schedule(samples, audio.OutputSampleRate)
			m.metrics.BuffersScheduled.Inc()
			logging.DebugwCtx(r.ctx, "session: playback scheduled",
				"start_ms", b.Start.Milliseconds(), "duration_ms", b.Duration().Milliseconds())
		}
	}
	if msg.GoAway {
		logging.InfowCtx(r.ctx, "session: server announced shutdown")
	}

	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return
	}
	changed := false
	if msg.OutputTranscript != "" {
		m.transcript.AppendOutput(msg.OutputTranscript)
		changed = true
	}
	if msg.InputTranscript != "" {
		m.transcript.AppendInput(msg.InputTranscript)
		changed = true
	}
	var committed []transcript.Entry
	if msg.TurnComplete {
		committed = m.transcript.Commit()
		changed = true
	}
	if msg.Interrupted {
		m.transcript.Interrupt()
		changed = true
	}
	m.mu.Unlock()

	if msg.TurnComplete {
		m.metrics.TurnsCommitted.Inc()
		logging.DebugwCtx(r.ctx, "session: turn complete", "entries", len(committed))
	}
	if msg.Interrupted {
		n := r.sched.Flush()
		m.metrics.Interruptions.Inc()
		logging.DebugwCtx(r.ctx, "session: interrupted", "flushed", n)
	}
	if changed {
		m.publish()
	}
}

// State returns the current snapshot.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:      m.status,
		Connected:   m.status == StatusConnected,
		SessionID:   m.sessionID,
		Volume:      m.volume,
		Transcripts: m.transcript.Entries(),
		InProgress:  m.transcript.InProgress(),
		Err:         m.lastErr,
	}
}

// Stats returns the lifetime frame counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Enqueued:     atomic.LoadInt64(&m.enqueueCount),
		Dropped:      atomic.LoadInt64(&m.dropQueueCount),
		Sent:         atomic.LoadInt64(&m.sentCount),
		DecodeErrors: atomic.LoadInt64(&m.decodeErrCount),
	}
}

// Subscribe returns a channel that always holds the latest snapshot; older
// unread snapshots are replaced. The current state is delivered first. Call
// the returned func to unsubscribe; it closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.State()
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

// publish must not be called with m.mu held.
func (m *Manager) publish() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if len(m.subs) == 0 {
		return
	}
	snap := m.State()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
