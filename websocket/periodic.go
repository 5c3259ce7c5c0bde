package websocket

import (
	"time"

	"github.com/rs/zerolog"
)

// PayloadGenerator produces the payload for an unsolicited PING or PONG
// frame. The default generator returns an empty payload.
type PayloadGenerator func() []byte

func defaultPayloadGenerator() []byte { return nil }

// PeriodicSender schedules unsolicited PING and PONG frames at
// configured intervals (spec.md Section 4.8). The two schedules are
// independent; either is disabled by a zero interval.
type PeriodicSender struct {
	pingInterval time.Duration
	pongInterval time.Duration
	pingPayload  PayloadGenerator
	pongPayload  PayloadGenerator

	queue  *SendQueue
	logger zerolog.Logger
	done   chan struct{}
}

// NewPeriodicSender builds a PeriodicSender. A zero PayloadGenerator
// defaults to emitting an empty payload.
func NewPeriodicSender(queue *SendQueue, logger zerolog.Logger, pingInterval, pongInterval time.Duration, pingPayload, pongPayload PayloadGenerator) *PeriodicSender {
	if pingPayload == nil {
		pingPayload = defaultPayloadGenerator
	}
	if pongPayload == nil {
		pongPayload = defaultPayloadGenerator
	}
	return &PeriodicSender{
		pingInterval: pingInterval,
		pongInterval: pongInterval,
		pingPayload:  pingPayload,
		pongPayload:  pongPayload,
		queue:        queue,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// run is a single goroutine holding both tickers behind one select, the
// "small capability set" design spec.md Section 9 calls out. A zero
// interval yields a nil channel, which a select never selects.
func (p *PeriodicSender) run() {
	var pingTicker, pongTicker *time.Ticker
	var pingC, pongC <-chan time.Time

	if p.pingInterval > 0 {
		pingTicker = time.NewTicker(p.pingInterval)
		defer pingTicker.Stop()
		pingC = pingTicker.C
	}
	if p.pongInterval > 0 {
		pongTicker = time.NewTicker(p.pongInterval)
		defer pongTicker.Stop()
		pongC = pongTicker.C
	}

	for {
		select {
		case <-p.done:
			return
		case <-pingC:
			p.sendPing()
		case <-pongC:
			p.sendPong()
		}
	}
}

func (p *PeriodicSender) sendPing() {
	f, err := NewPingFrame(p.pingPayload())
	if err != nil {
		p.logger.Warn().Err(err).Msg("periodic ping payload rejected")
		return
	}
	_ = p.queue.EnqueueControl(f)
}

func (p *PeriodicSender) sendPong() {
	f, err := NewPongFrame(p.pongPayload())
	if err != nil {
		p.logger.Warn().Err(err).Msg("periodic pong payload rejected")
		return
	}
	_ = p.queue.EnqueueControl(f)
}

// stop cancels both schedules. Safe to call once (a second call panics);
// the Session calls it from finish(), just before it closes the
// SendQueue.
func (p *PeriodicSender) stop() {
	close(p.done)
}
