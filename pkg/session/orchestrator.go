package session

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/metrics"
	"go.uber.org/zap"
)

const defaultStartTimeout = 15 * time.Second

// CredentialFetcher obtains one fresh credential per session attempt.
type CredentialFetcher interface {
	Fetch(ctx context.Context, agentID, identityToken string) (Credential, error)
}

// MediaSession is the slice of Manager the orchestrator drives.
type MediaSession interface {
	Connect(ctx context.Context, cred Credential) error
	Disconnect()
	ToggleMicrophone(ctx context.Context) error
	SwitchAudioInput(deviceID string) error
	StartAudio() bool
}

// TokenSource supplies the caller's identity token. The token is opaque
// to this package; a missing token surfaces as a credential failure.
type TokenSource interface {
	IdentityToken(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same identity token on every call.
type StaticTokenSource string

func (s StaticTokenSource) IdentityToken(context.Context) (string, error) {
	return string(s), nil
}

// Orchestrator sequences credential fetch, transport connect and the
// audio-unblock probe into a single UI-facing status surface. One
// orchestrator drives at most one live session; all collaborators are
// injected, so independent orchestrators share no state.
type Orchestrator struct {
	creds   CredentialFetcher
	media   MediaSession
	tokens  TokenSource
	timeout time.Duration

	mu              sync.Mutex
	status          Status
	errDetail       *ErrorDetail
	needsAudioStart bool
	// generation invalidates in-flight starts: every Start and Stop bumps
	// it, and async resumption points compare against their own copy. A
	// connect that resolves for a stale generation is torn down instead of
	// surfaced as live.
	generation uint64

	nextSub    int
	statusSubs map[int]func(Status)
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStartTimeout bounds the whole start sequence. A sequence that does
// not settle in time fails like any other error.
func WithStartTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator builds an orchestrator from its collaborators.
func NewOrchestrator(creds CredentialFetcher, media MediaSession, tokens TokenSource, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		creds:      creds,
		media:      media,
		tokens:     tokens,
		timeout:    defaultStartTimeout,
		status:     StatusIdle,
		statusSubs: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start runs the full start sequence: credential fetch, transport
// connect, audio-unblock probe, then Live. A second Start while one is
// loading or live is a no-op. Any failure leaves the media session
// unconnected and the orchestrator in Failed with a stage-tagged error.
func (o *Orchestrator) Start(agentID string) {
	o.mu.Lock()
	if o.status == StatusLoading || o.status == StatusLive {
		o.mu.Unlock()
		return
	}
	o.generation++
	gen := o.generation
	o.status = StatusLoading
	o.errDetail = nil
	o.needsAudioStart = false
	o.mu.Unlock()
	o.notifyStatus(StatusLoading)
	metrics.SessionsStarted.Inc()
	logger.Info("session start", zap.String("agent_id", agentID))

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	identityToken, err := o.tokens.IdentityToken(ctx)
	if err != nil {
		o.fail(gen, StageCredential, apperrors.WrapError(apperrors.ErrCodeCredential, err))
		return
	}

	cred, err := o.creds.Fetch(ctx, agentID, identityToken)
	if err != nil {
		o.fail(gen, StageCredential, err)
		return
	}

	if err := o.media.Connect(ctx, cred); err != nil {
		o.fail(gen, StageConnect, err)
		return
	}

	// The connect may have resolved for an attempt the user already
	// stopped; never surface it as live, tear it down instead.
	if o.stale(gen) {
		o.media.Disconnect()
		logger.Info("discarding connect result for a stopped attempt", zap.Uint64("generation", gen))
		return
	}

	started := o.media.StartAudio()

	o.mu.Lock()
	if o.generation != gen || o.status != StatusLoading {
		o.mu.Unlock()
		o.media.Disconnect()
		return
	}
	o.needsAudioStart = !started
	o.status = StatusLive
	o.mu.Unlock()
	o.notifyStatus(StatusLive)
	metrics.ActiveSessions.Inc()
	logger.Info("session live", zap.String("agent_id", agentID), zap.Bool("needs_audio_start", !started))
}

// Stop tears the session down. A no-op while idle; always succeeds.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.status == StatusIdle {
		o.mu.Unlock()
		return
	}
	wasLive := o.status == StatusLive
	o.generation++
	o.status = StatusDisconnecting
	o.mu.Unlock()
	o.notifyStatus(StatusDisconnecting)

	o.media.Disconnect()

	o.mu.Lock()
	o.errDetail = nil
	o.needsAudioStart = false
	o.status = StatusDisconnected
	o.mu.Unlock()
	o.notifyStatus(StatusDisconnected)

	o.mu.Lock()
	o.status = StatusIdle
	o.mu.Unlock()
	o.notifyStatus(StatusIdle)

	if wasLive {
		metrics.ActiveSessions.Dec()
	}
	logger.Info("session stopped")
}

// Dismiss clears a Failed status back to Idle. No-op otherwise.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	if o.status != StatusFailed {
		o.mu.Unlock()
		return
	}
	o.errDetail = nil
	o.status = StatusIdle
	o.mu.Unlock()
	o.notifyStatus(StatusIdle)
}

// RetryAudioStart re-probes blocked playback after a user gesture.
func (o *Orchestrator) RetryAudioStart() {
	o.mu.Lock()
	if o.status != StatusLive || !o.needsAudioStart {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	started := o.media.StartAudio()

	o.mu.Lock()
	if o.status == StatusLive {
		o.needsAudioStart = !started
	}
	o.mu.Unlock()
}

// ToggleMicrophone flips the local publish state of the live session.
func (o *Orchestrator) ToggleMicrophone(ctx context.Context) error {
	return o.media.ToggleMicrophone(ctx)
}

// SwitchAudioInput rebinds the live session's input device.
func (o *Orchestrator) SwitchAudioInput(deviceID string) error {
	return o.media.SwitchAudioInput(deviceID)
}

// Status returns the current UI-facing status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the current error detail, nil when none is shown.
func (o *Orchestrator) Err() *ErrorDetail {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.errDetail == nil {
		return nil
	}
	detail := *o.errDetail
	return &detail
}

// NeedsManualAudioStart reports whether remote playback is waiting on a
// user gesture.
func (o *Orchestrator) NeedsManualAudioStart() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.needsAudioStart
}

// OnStatusChange registers a status listener and returns its unsubscribe
// function.
func (o *Orchestrator) OnStatusChange(fn func(Status)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.statusSubs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.statusSubs, id)
			o.mu.Unlock()
		})
	}
}

// fail records a failed start attempt: the media session is always left
// unconnected, and the failure is surfaced only when the attempt is still
// the current one.
func (o *Orchestrator) fail(gen uint64, stage Stage, err error) {
	// Disconnect is idempotent; calling it on an attempt that never
	// connected is safe, and it guarantees no partial connection survives.
	o.media.Disconnect()

	detail := errorDetailFor(stage, err)
	o.mu.Lock()
	if o.generation != gen || o.status != StatusLoading {
		o.mu.Unlock()
		logger.Debug("ignoring failure of a stopped attempt", zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	o.status = StatusFailed
	o.errDetail = &detail
	o.mu.Unlock()
	o.notifyStatus(StatusFailed)

	metrics.SessionFailures.WithLabelValues(string(stage)).Inc()
	logger.Error("session start failed", zap.String("stage", string(stage)), zap.Error(err))
}

func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation != gen || o.status != StatusLoading
}

func (o *Orchestrator) notifyStatus(status Status) {
	o.mu.Lock()
	subs := make([]func(Status), 0, len(o.statusSubs))
	for _, fn := range o.statusSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(status)
	}
}

func errorDetailFor(stage Stage, err error) ErrorDetail {
	title := connectErrorTitle
	if apperrors.HasCode(err, apperrors.ErrCodeConnectionTimeout) || errors.Is(err, context.DeadlineExceeded) {
		stage = StageTimeout
	}
	switch stage {
	case StageCredential:
		if apperrors.HasCode(err, apperrors.ErrCodeCredential) {
			title = "Could not authorize the session"
		}
	case StageTimeout:
		title = "Connecting to the agent timed out"
	}
	return ErrorDetail{Title: title, Description: err.Error()}
}
