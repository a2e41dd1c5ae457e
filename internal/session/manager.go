package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/live"
	"github.com/Rrens/live-assist/internal/metrics"
	"github.com/Rrens/live-assist/internal/quota"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProfile  = "interview"
	DefaultLanguage = "en-US"

	defaultAudioMIME = "audio/pcm;rate=24000"
	defaultImageMIME = "image/jpeg"
	historySeedLimit = 100
	persistTimeout   = 5 * time.Second
)

// Admitter is the quota check consulted before any work is forwarded.
type Admitter interface {
	Admit(ctx context.Context, userID uuid.UUID, req quota.Request) (*quota.Admission, error)
}

// Options tune the manager's lifecycle policy.
type Options struct {
	Model                string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	InitCooldown         time.Duration
	InactivityTimeout    time.Duration
	DefaultProfile       string
	DefaultLanguage      string
}

// OptionsFromConfig maps live configuration onto manager options.
func OptionsFromConfig(cfg config.LiveConfig) Options {
	return Options{
		Model:                cfg.Model,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		InitCooldown:         cfg.InitCooldown,
		InactivityTimeout:    cfg.InactivityTimeout,
		DefaultProfile:       cfg.DefaultProfile,
		DefaultLanguage:      cfg.DefaultLanguage,
	}
}

func (o *Options) applyDefaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 3
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = 2 * time.Second
	}
	if o.InitCooldown <= 0 {
		o.InitCooldown = 5 * time.Second
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 30 * time.Minute
	}
	if o.DefaultProfile == "" {
		o.DefaultProfile = DefaultProfile
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = DefaultLanguage
	}
}

// initMarker tracks initialization attempts for one (user, profile). done
// is non-nil while an attempt is in flight and closed when it ends.
type initMarker struct {
	done        chan struct{}
	lastFailure time.Time
}

// CloseReason says why a session left the directory.
type CloseReason int

const (
	CloseRequested CloseReason = iota
	CloseTerminal
	CloseInactive
	CloseShutdown
	CloseDiscarded
)

func (r CloseReason) String() string {
	switch r {
	case CloseRequested:
		return "requested"
	case CloseTerminal:
		return "terminal"
	case CloseInactive:
		return "inactive"
	case CloseShutdown:
		return "shutdown"
	default:
		return "discarded"
	}
}

// Final reports whether the conversation is over for good. Sessions evicted
// for inactivity or by shutdown keep an open record and can be restored.
func (r CloseReason) Final() bool {
	return r == CloseRequested || r == CloseTerminal
}

// Manager owns the live sessions of this process.
type Manager struct {
	transport live.Transport
	ledger    Admitter
	directory *Directory
	turns     domain.TurnRepository
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time
	onClosed  func(Info, CloseReason)

	initMu sync.Mutex
	inits  map[string]*initMarker

	wg sync.WaitGroup
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithTurnRepository persists completed turns and seeds restored sessions.
func WithTurnRepository(r domain.TurnRepository) ManagerOption {
	return func(m *Manager) { m.turns = r }
}

func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithCloseHook is called once for every session that leaves the
// directory, with the reason it left.
func WithCloseHook(fn func(Info, CloseReason)) ManagerOption {
	return func(m *Manager) { m.onClosed = fn }
}

// NewManager creates a new session manager
func NewManager(transport live.Transport, ledger Admitter, dir *Directory, opts Options, options ...ManagerOption) *Manager {
	opts.applyDefaults()
	if dir == nil {
		dir = NewDirectory()
	}
	m := &Manager{
		transport: transport,
		ledger:    ledger,
		directory: dir,
		opts:      opts,
		now:       time.Now,
		inits:     make(map[string]*initMarker),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Directory returns the manager's session directory.
func (m *Manager) Directory() *Directory {
	return m.directory
}

// Initialize opens a session, or returns the id of the session that already
// serves the user and profile, reconnecting ones included. A concurrent
// call for the same user and profile waits for the attempt in flight and
// shares its result. obs may be nil.
func (m *Manager) Initialize(ctx context.Context, p InitParams, obs Observer) (string, error) {
	s, err := m.initialize(ctx, p, obs, "initialize", true)
	if err != nil {
		return "", err
	}
	return s.ID(), nil
}

// initialize opens a new session. With reuse unset it refuses with
// ErrProfileInUse instead of returning a session that already serves the
// user and profile.
func (m *Manager) initialize(ctx context.Context, p InitParams, obs Observer, origin string, reuse bool) (*Session, error) {
	if p.UserID == uuid.Nil {
		return nil, domain.ErrUnauthenticated
	}
	if p.Profile == "" {
		p.Profile = m.opts.DefaultProfile
	}
	if p.Language == "" {
		p.Language = m.opts.DefaultLanguage
	}
	if p.SessionType == "" {
		p.SessionType = domain.SessionTypeLive
	}

	logger := log.With().Str("user_id", p.UserID.String()).Str("profile", p.Profile).Logger()

	key := initKey(p.UserID, p.Profile)
	for {
		existing, wait, err := m.beginInit(key, p.UserID, p.Profile)
		if err != nil {
			logger.Warn().Msg("Session initialization suppressed")
			return nil, err
		}
		if existing != nil {
			if !reuse {
				logger.Warn().Str("session_id", existing.ID()).Str("origin", origin).Msg("Profile already served by a live session")
				return nil, domain.ErrProfileInUse
			}
			if obs != nil {
				existing.attach(obs)
			}
			logger.Info().Str("session_id", existing.ID()).Msg("Returning existing session")
			return existing, nil
		}
		if wait == nil {
			break
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	opened := false
	channelFailed := false
	defer func() { m.endInit(key, opened, channelFailed) }()

	adm, err := m.ledger.Admit(ctx, p.UserID, quota.Request{Dimension: domain.DimensionSession, Units: 1, Tokens: 1})
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.NewString(), p, m.now())
	if obs != nil {
		s.attach(obs)
	}

	ch, err := m.openChannel(ctx, s)
	if err != nil {
		adm.Release(ctx)
		channelFailed = true
		s.cancel()
		if live.IsCredentialFailure(err.Error()) {
			logger.Error().Err(err).Bool("credential_failure", true).Msg("Live session rejected credentials")
			return nil, fmt.Errorf("%w: %v", domain.ErrFatalCredential, err)
		}
		logger.Error().Err(err).Msg("Failed to open live session")
		return nil, fmt.Errorf("failed to initialize AI session: %w", err)
	}
	adm.Commit(ctx)

	s.activate(ch)
	m.directory.Put(s)
	m.wg.Add(1)
	go m.pump(s)

	opened = true
	m.metrics.SessionOpened(origin)
	logger.Info().Str("session_id", s.ID()).Str("origin", origin).Msg("Live session opened")
	return s, nil
}

// openChannel opens a channel whose events are tagged with a fresh
// generation, so events from replaced channels are ignored.
func (m *Manager) openChannel(ctx context.Context, s *Session) (live.Channel, error) {
	gen := s.generation.Add(1)
	return m.transport.Open(ctx, s.liveConfig(m.opts.Model), s.sinkFor(gen))
}

func initKey(userID uuid.UUID, profile string) string {
	return userID.String() + ":" + profile
}

// beginInit claims the initialization of key. It returns the live session
// already serving the user and profile, or a channel that closes when the
// attempt in flight ends. It fails while the last channel failure is inside
// the cooldown.
func (m *Manager) beginInit(key string, userID uuid.UUID, profile string) (*Session, <-chan struct{}, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if s := m.directory.FindLive(userID, profile); s != nil {
		return s, nil, nil
	}

	mk, ok := m.inits[key]
	if !ok {
		mk = &initMarker{}
		m.inits[key] = mk
	}
	if mk.done != nil {
		return nil, mk.done, nil
	}
	if !mk.lastFailure.IsZero() && m.now().Sub(mk.lastFailure) < m.opts.InitCooldown {
		return nil, nil, domain.ErrInitSuppressed
	}
	mk.done = make(chan struct{})
	return nil, nil, nil
}

func (m *Manager) endInit(key string, opened, channelFailed bool) {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	mk, ok := m.inits[key]
	if !ok {
		return
	}
	if mk.done != nil {
		close(mk.done)
		mk.done = nil
	}
	switch {
	case opened:
		delete(m.inits, key)
	case channelFailed:
		mk.lastFailure = m.now()
	case mk.lastFailure.IsZero():
		delete(m.inits, key)
	}
}

// PruneCooldowns drops markers whose cooldown has elapsed and returns how
// many were removed.
func (m *Manager) PruneCooldowns(now time.Time) int {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	n := 0
	for key, mk := range m.inits {
		if mk.done == nil && now.Sub(mk.lastFailure) >= m.opts.InitCooldown {
			delete(m.inits, key)
			n++
		}
	}
	return n
}

// AudioChunk is raw audio input. Zero SampleRate or Channels default to
// 24kHz mono.
type AudioChunk struct {
	Data       []byte
	MIMEType   string
	SampleRate int
	Channels   int
}

// ImageChunk is a still frame. Zero dimensions are read from the image.
type ImageChunk struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// SendText forwards text to the session. The reply arrives through the
// session's observers.
func (m *Manager) SendText(ctx context.Context, sessionID, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, domain.NewValidationError("text", "must not be empty")
	}
	return m.send(ctx, sessionID, live.Text(text), quota.Request{
		Dimension: domain.DimensionInteraction,
		Units:     1,
		Tokens:    quota.TextTokens(text),
	})
}

func (m *Manager) SendAudio(ctx context.Context, sessionID string, chunk AudioChunk) (bool, error) {
	if len(chunk.Data) == 0 {
		return false, domain.NewValidationError("data", "audio chunk is empty")
	}
	if chunk.MIMEType == "" {
		chunk.MIMEType = defaultAudioMIME
	}
	return m.send(ctx, sessionID, live.Audio(chunk.Data, chunk.MIMEType), quota.Request{
		Dimension: domain.DimensionAudio,
		Units:     quota.AudioMillis(len(chunk.Data), chunk.SampleRate, chunk.Channels),
		Tokens:    quota.AudioTokens(len(chunk.Data), chunk.SampleRate, chunk.Channels),
	})
}

func (m *Manager) SendImage(ctx context.Context, sessionID string, chunk ImageChunk) (bool, error) {
	if len(chunk.Data) == 0 {
		return false, domain.NewValidationError("data", "image is empty")
	}
	if chunk.MIMEType == "" {
		chunk.MIMEType = defaultImageMIME
	}
	w, h := chunk.Width, chunk.Height
	if w <= 0 || h <= 0 {
		w, h = quota.ImageSize(chunk.Data)
	}
	return m.send(ctx, sessionID, live.Image(chunk.Data, chunk.MIMEType), quota.Request{
		Dimension: domain.DimensionInteraction,
		Units:     1,
		Tokens:    quota.ImageTokens(w, h),
	})
}

func (m *Manager) send(ctx context.Context, sessionID string, in live.Input, req quota.Request) (bool, error) {
	s, ok := m.directory.Get(sessionID)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	switch s.State() {
	case StateActive:
	case StateReconnecting:
		return false, domain.ErrReconnecting
	default:
		return false, domain.ErrSessionNotFound
	}

	req.SessionID = sessionID
	adm, err := m.ledger.Admit(ctx, s.UserID(), req)
	if err != nil {
		return false, err
	}

	ch := s.currentChannel()
	if ch == nil {
		adm.Release(ctx)
		return false, domain.ErrReconnecting
	}
	if err := ch.Send(ctx, in); err != nil {
		adm.Release(ctx)
		log.Warn().Err(err).Str("session_id", sessionID).Str("kind", in.Kind.String()).Msg("Failed to forward input")
		return false, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}

	adm.Commit(ctx)
	s.tokensUsed.Add(adm.Tokens())
	s.touch(m.now())
	m.metrics.InputForwarded(in.Kind.String())
	return true, nil
}

// Close ends a session. Unknown or already closed ids are a no-op.
func (m *Manager) Close(_ context.Context, sessionID string) error {
	s, ok := m.directory.Get(sessionID)
	if !ok {
		return nil
	}
	if m.closeSession(s, CloseRequested) {
		log.Info().Str("session_id", sessionID).Msg("Live session closed")
	}
	return nil
}

// closeSession tears s down. Only the first caller returns true.
func (m *Manager) closeSession(s *Session, reason CloseReason) bool {
	ch, ok := s.markClosed()
	if !ok {
		return false
	}
	s.cancel()
	if ch != nil {
		if err := ch.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID()).Msg("Channel close returned error")
		}
	}
	m.directory.Delete(s.ID(), s)
	m.metrics.SessionClosed()
	if m.onClosed != nil {
		m.onClosed(s.Info(), reason)
	}
	return true
}

// Attach registers obs on a live session and returns a func that detaches it.
func (m *Manager) Attach(sessionID string, obs Observer) (func(), error) {
	s, ok := m.directory.Get(sessionID)
	if !ok || s.State() == StateClosed {
		return nil, domain.ErrSessionNotFound
	}
	return s.attach(obs), nil
}

// Get returns a view of the session stored under id.
func (m *Manager) Get(sessionID string) (Info, bool) {
	s, ok := m.directory.Get(sessionID)
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

// History returns the completed turns of a live session.
func (m *Manager) History(sessionID string) ([]domain.ConversationTurn, error) {
	s, ok := m.directory.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.History(), nil
}

// UserSessions lists the user's sessions held in memory.
func (m *Manager) UserSessions(userID uuid.UUID) []Info {
	sessions := m.directory.ByUser(userID)
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// CleanupInactive closes sessions idle longer than the inactivity timeout
// and returns how many were closed.
func (m *Manager) CleanupInactive(now time.Time) int {
	n := 0
	for _, s := range m.directory.All() {
		if now.Sub(s.LastActivity()) <= m.opts.InactivityTimeout {
			continue
		}
		if m.closeSession(s, CloseInactive) {
			log.Info().Str("session_id", s.ID()).Msg("Closed inactive session")
			n++
		}
	}
	return n
}

// Shutdown closes every session and waits for their goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, s := range m.directory.All() {
		m.closeSession(s, CloseShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump is the single consumer of a session's events.
func (m *Manager) pump(s *Session) {
	defer m.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.events:
			if env.terminal != nil {
				m.fail(s, env.terminal)
				return
			}
			if env.generation != s.generation.Load() {
				continue
			}
			m.handle(s, env.event)
		}
	}
}

func (m *Manager) handle(s *Session, ev live.Event) {
	id := s.ID()
	switch ev.Kind {
	case live.EventPartialTranscript:
		s.touch(m.now())
		s.assembler.Transcript(ev.Text)
		for _, o := range s.snapshotObservers() {
			o.OnTranscription(id, ev.Text)
		}

	case live.EventPartialResponse:
		s.touch(m.now())
		cumulative := s.assembler.Response(ev.Text)
		for _, o := range s.snapshotObservers() {
			o.OnResponse(id, cumulative)
		}

	case live.EventTurnBoundary:
		turn, ok := s.assembler.Boundary(id, m.now())
		if !ok {
			return
		}
		s.appendTurn(turn)
		m.persistTurn(turn)
		m.metrics.TurnCompleted()
		for _, o := range s.snapshotObservers() {
			o.OnComplete(id, turn)
		}

	case live.EventTurnComplete:
		log.Debug().Str("session_id", id).Msg("Turn complete")

	case live.EventTransportError:
		log.Warn().Err(ev.Err).Str("session_id", id).Msg("Live channel error")

	case live.EventTransportClosed:
		m.handleClosed(s, ev)
	}
}

func (m *Manager) persistTurn(turn domain.ConversationTurn) {
	if m.turns == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.turns.Append(ctx, &turn); err != nil {
		log.Warn().Err(err).Str("session_id", turn.SessionID).Msg("Failed to persist conversation turn")
	}
}

// fail closes s and reports err to its observers. Runs on the pump.
func (m *Manager) fail(s *Session, err error) {
	id := s.ID()
	observers := s.snapshotObservers()
	if !m.closeSession(s, CloseTerminal) {
		return
	}
	for _, o := range observers {
		o.OnError(id, err)
	}
}
