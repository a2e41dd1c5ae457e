package session

import (
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/live"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// handleClosed reacts to the remote end closing the current channel. Runs
// on the pump.
func (m *Manager) handleClosed(s *Session, ev live.Event) {
	reason := ev.Reason
	if reason == "" && ev.Err != nil {
		reason = ev.Err.Error()
	}
	logger := log.With().Str("session_id", s.ID()).Str("reason", reason).Int("code", ev.Code).Logger()

	if live.IsCredentialFailure(reason) {
		logger.Error().Bool("credential_failure", true).Msg("Live session closed by provider: credentials rejected")
		m.fail(s, domain.ErrFatalCredential)
		return
	}

	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	if !s.markReconnecting() {
		s.reconnecting.Store(false)
		return
	}

	logger.Warn().Msg("Live session closed, reconnecting")
	m.wg.Add(1)
	go m.reconnect(s)
}

// reconnectBackOff yields base, 2*base, 4*base, ... without jitter.
func (m *Manager) reconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.ReconnectBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = m.opts.ReconnectBaseDelay << m.opts.MaxReconnectAttempts
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// reconnect reopens the channel of s with its original parameters, at most
// MaxReconnectAttempts times. The session object, id and history are kept.
func (m *Manager) reconnect(s *Session) {
	defer m.wg.Done()
	defer s.reconnecting.Store(false)

	logger := log.With().Str("session_id", s.ID()).Logger()
	b := m.reconnectBackOff()

	for attempt := 0; attempt < m.opts.MaxReconnectAttempts; attempt++ {
		s.attempts.Store(int32(attempt + 1))
		delay := b.NextBackOff()

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Info().Msg("Reconnection abandoned, session closed")
			return
		case <-timer.C:
		}

		ch, err := m.openChannel(s.ctx, s)
		if err != nil {
			m.metrics.Reconnect("failure")
			if live.IsCredentialFailure(err.Error()) {
				logger.Error().Err(err).Bool("credential_failure", true).Msg("Reconnection rejected: credentials")
				s.enqueue(envelope{terminal: domain.ErrFatalCredential})
				return
			}
			logger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("Reconnection attempt failed")
			continue
		}

		old, ok := s.activate(ch)
		if !ok {
			ch.Close()
			return
		}
		if old != nil {
			_ = old.Close()
		}
		m.metrics.Reconnect("success")
		logger.Info().Int("attempt", attempt+1).Msg("Live session reconnected")
		return
	}

	logger.Error().Int("attempts", m.opts.MaxReconnectAttempts).Msg("Live session unrecoverable")
	s.enqueue(envelope{terminal: domain.ErrSessionUnrecoverable})
}
