package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
	"github.com/alanyoungcy/truthledger/internal/metrics"
	"github.com/alanyoungcy/truthledger/internal/notify"
)

// Bus channel and stream names for ledger events.
const (
	LedgerChannelPrefix = "ledger:"
	LedgerStream        = "ledger:events"
)

// LedgerChannel is the pub/sub channel for one event type.
func LedgerChannel(t domain.LedgerEventType) string {
	return LedgerChannelPrefix + string(t)
}

// EventPublisher writes ledger events to the durable event log.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, e domain.LedgerEvent) error
}

// Alerter sends operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ObserverDeps are the optional sinks of a LedgerObserver. Nil fields are
// skipped.
type ObserverDeps struct {
	Bus      domain.SignalBus
	Events   EventPublisher
	Metrics  *metrics.Metrics
	Audit    domain.AuditStore
	Alerts   Alerter
	Archiver domain.SettlementArchiver
	// ArchiveOnResolve uploads the settlement as soon as a market resolves.
	ArchiveOnResolve bool
}

// LedgerObserver fans committed ledger transitions out to the bus, the
// event log, metrics, the audit trail and alerting. Sink failures are
// logged and never reach the ledger caller.
type LedgerObserver struct {
	deps    ObserverDeps
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewLedgerObserver creates a LedgerObserver.
func NewLedgerObserver(deps ObserverDeps, logger *slog.Logger) *LedgerObserver {
	return &LedgerObserver{
		deps:    deps,
		logger:  logger.With(slog.String("component", "ledger_observer")),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// Wait blocks until background archive uploads and alerts finish.
func (o *LedgerObserver) Wait() { o.wg.Wait() }

func (o *LedgerObserver) MarketCreated(ctx context.Context, m domain.Market) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.MarketsCreated.Inc()
		o.deps.Metrics.VaultBalance.WithLabelValues(m.ExternalID).Set(0)
	}
	o.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventMarketCreated,
		MarketID: m.ExternalID,
	})
	o.auditLog(ctx, "market.created", map[string]any{
		"market": m.ExternalID, "vault": m.VaultID, "asset": m.Asset, "authority": m.Authority,
	})
	o.alert(ctx, notify.EventMarketCreated, "Market created",
		fmt.Sprintf("%s (%s)", m.ExternalID, m.Asset))
}

func (o *LedgerObserver) StakePlaced(ctx context.Context, res ledger.StakeResult) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.Stakes.WithLabelValues(string(res.Side)).Inc()
		o.deps.Metrics.StakedAmount.WithLabelValues(string(res.Side)).Add(float64(res.Amount))
		o.deps.Metrics.VaultBalance.WithLabelValues(res.Market.ExternalID).Set(float64(res.Receipt.BalanceAfter))
	}
	o.emit(ctx, domain.LedgerEvent{
		Type:        domain.EventStakePlaced,
		MarketID:    res.Market.ExternalID,
		Participant: res.Stake.Participant,
		Side:        res.Side,
		Amount:      res.Amount,
		TotalYes:    res.Market.TotalYes,
		TotalNo:     res.Market.TotalNo,
		ReceiptID:   res.Receipt.ID,
	})
}

func (o *LedgerObserver) MarketResolved(ctx context.Context, m domain.Market) {
	outcome := domain.SideOf(m.Outcome)
	if o.deps.Metrics != nil {
		o.deps.Metrics.Resolutions.WithLabelValues(string(outcome)).Inc()
		if m.WinningPool() == 0 {
			// Nobody can claim, so the balance never moves again.
			o.deps.Metrics.VaultBalance.DeleteLabelValues(m.ExternalID)
		}
	}
	o.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventMarketResolved,
		MarketID: m.ExternalID,
		TotalYes: m.TotalYes,
		TotalNo:  m.TotalNo,
		Outcome:  outcome,
	})
	o.auditLog(ctx, "market.resolved", map[string]any{
		"market": m.ExternalID, "outcome": string(outcome),
		"total_yes": m.TotalYes, "total_no": m.TotalNo,
	})
	o.alert(ctx, notify.EventMarketResolved, "Market resolved",
		fmt.Sprintf("%s resolved %s (YES %d / NO %d)", m.ExternalID, outcome, m.TotalYes, m.TotalNo))

	if o.deps.ArchiveOnResolve && o.deps.Archiver != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.archive(context.WithoutCancel(ctx), m.ExternalID)
		}()
	}
}

func (o *LedgerObserver) ClaimPaid(ctx context.Context, p domain.Payout) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.Claims.Inc()
		o.deps.Metrics.PaidOut.Add(float64(p.Amount))
		if p.Final {
			o.deps.Metrics.VaultBalance.DeleteLabelValues(p.MarketID)
		} else {
			o.deps.Metrics.VaultBalance.WithLabelValues(p.MarketID).Set(float64(p.Receipt.BalanceAfter))
		}
	}
	o.emit(ctx, domain.LedgerEvent{
		Type:        domain.EventClaimPaid,
		MarketID:    p.MarketID,
		Participant: p.Participant,
		Amount:      p.Amount,
		ReceiptID:   p.Receipt.ID,
	})
	o.auditLog(ctx, "claim.paid", map[string]any{
		"market": p.MarketID, "participant": p.Participant, "amount": p.Amount, "receipt": p.Receipt.ID,
	})
}

func (o *LedgerObserver) InvariantViolated(ctx context.Context, marketID string, err error) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.InvariantViolations.Inc()
	}
	o.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventInvariantViolation,
		MarketID: marketID,
		Error:    err.Error(),
	})
	o.auditLog(ctx, "invariant.violation", map[string]any{"market": marketID, "error": err.Error()})
	o.alert(ctx, notify.EventInvariantViolation, "Ledger invariant violated",
		fmt.Sprintf("market %s: %v", marketID, err))
}

func (o *LedgerObserver) archive(ctx context.Context, marketID string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	path, err := o.deps.Archiver.ArchiveSettlement(ctx, marketID)
	if err != nil {
		o.logger.ErrorContext(ctx, "archive failed",
			slog.String("market", marketID),
			slog.String("error", err.Error()),
		)
		o.alert(ctx, notify.EventArchiveFailed, "Settlement archive failed",
			fmt.Sprintf("market %s: %v", marketID, err))
		return
	}
	o.logger.InfoContext(ctx, "settlement archived",
		slog.String("market", marketID),
		slog.String("path", path),
	)
}

// emit publishes e on the bus channel, the bus stream and the event log.
func (o *LedgerObserver) emit(ctx context.Context, e domain.LedgerEvent) {
	e.TsUnixMs = o.now().UnixMilli()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	if o.deps.Bus != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			o.logger.ErrorContext(ctx, "marshal ledger event", slog.String("error", err.Error()))
		} else {
			if err := o.deps.Bus.Publish(ctx, LedgerChannel(e.Type), payload); err != nil {
				o.sinkFailed(ctx, "bus.publish", e, err)
			}
			if err := o.deps.Bus.StreamAppend(ctx, LedgerStream, payload); err != nil {
				o.sinkFailed(ctx, "bus.stream", e, err)
			}
		}
	}
	if o.deps.Events != nil {
		if err := o.deps.Events.PublishLedgerEvent(ctx, e); err != nil {
			o.sinkFailed(ctx, "event_log", e, err)
		}
	}
}

func (o *LedgerObserver) sinkFailed(ctx context.Context, sink string, e domain.LedgerEvent, err error) {
	o.logger.WarnContext(ctx, "ledger event sink failed",
		slog.String("sink", sink),
		slog.String("type", string(e.Type)),
		slog.String("market", e.MarketID),
		slog.String("error", err.Error()),
	)
}

func (o *LedgerObserver) auditLog(ctx context.Context, event string, detail map[string]any) {
	if o.deps.Audit == nil {
		return
	}
	if err := o.deps.Audit.Log(context.WithoutCancel(ctx), event, detail); err != nil {
		o.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (o *LedgerObserver) alert(ctx context.Context, event, title, message string) {
	if o.deps.Alerts == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.deps.Alerts.Notify(ctx, event, title, message); err != nil {
			o.logger.WarnContext(ctx, "alert failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

var _ ledger.Observer = (*LedgerObserver)(nil)
