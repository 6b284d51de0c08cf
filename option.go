package paycore

import (
	"time"

	"github.com/vitwit/paycore/events"
	"github.com/vitwit/paycore/ledger"
	"github.com/vitwit/paycore/logger"
	"github.com/vitwit/paycore/metrics"
	"github.com/vitwit/paycore/settlement"
	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/verification"
)

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) {
		if r != nil {
			g.metrics = r
		}
	}
}

func WithTimeout(t time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = t
	}
}

// WithStore persists engine state in s instead of memory.
func WithStore(s storage.Store) Option {
	return func(g *Gateway) {
		if s != nil {
			g.store = s
		}
	}
}

// WithBus shares an event bus with other components.
func WithBus(b *events.Bus) Option {
	return func(g *Gateway) {
		if b != nil {
			g.bus = b
		}
	}
}

// WithLedger settles against l. This is the default, with a fresh ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.ledger = l
			g.transfers = l
			g.reader = l
		}
	}
}

// WithTransfers settles through t and reads balances for preflight checks
// from r, e.g. a Saga over an on-chain token client.
func WithTransfers(t settlement.Transfers, r verification.BalanceReader) Option {
	return func(g *Gateway) {
		if t != nil {
			g.ledger = nil
			g.transfers = t
			g.reader = r
		}
	}
}
