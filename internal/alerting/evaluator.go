package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

// AlertSource is the slice of the alert store the evaluator needs.
type AlertSource interface {
	ListActiveAlerts(ctx context.Context) ([]storage.Alert, error)
	MarkAlertTriggered(ctx context.Context, id int64, price decimal.Decimal, at time.Time) (bool, error)
}

// DestinationSource resolves delivery destinations per owner.
type DestinationSource interface {
	ListDeviceTokens(ctx context.Context, ownerRef string) ([]string, error)
}

// AuditSink appends one row per dispatch attempt.
type AuditSink interface {
	AppendNotificationRecord(ctx context.Context, rec storage.NotificationRecord) error
}

// EvaluatorOptions tune evaluation policy.
type EvaluatorOptions struct {
	// FireOnStatic allows alerts to fire on prices served from the
	// hardcoded last-resort tier. Cached prices are always eligible;
	// they were live recently.
	FireOnStatic bool
}

// Evaluator runs the per-alert state machine once per cycle: active
// (enabled, not triggered) alerts that cross their target transition to
// triggered exactly once, then notifications are dispatched and audited.
// The triggered transition is persisted before dispatch and is never
// rolled back on delivery failure.
type Evaluator struct {
	alerts       AlertSource
	destinations DestinationSource
	audit        AuditSink
	dispatcher   Dispatcher
	opts         EvaluatorOptions
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEvaluator constructs an alert evaluator.
func NewEvaluator(alerts AlertSource, destinations DestinationSource, audit AuditSink, dispatcher Dispatcher, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts:       alerts,
		destinations: destinations,
		audit:        audit,
		dispatcher:   dispatcher,
		opts:         opts,
		logger:       logger.With().Str("component", "alert_evaluator").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type firedAlert struct {
	alert  storage.Alert
	amount decimal.Decimal
	tokens []string
}

type messageRef struct {
	alertID int64
	token   string
	amount  decimal.Decimal
}

// EvaluateCycle compares every active alert against the cycle's resolved
// prices. Per-alert failures are isolated; only the initial alert listing
// can fail the cycle.
func (e *Evaluator) EvaluateCycle(ctx context.Context, prices map[domain.Asset]domain.ResolvedPrice) error {
	alerts, err := e.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}

	fired := make([]firedAlert, 0)
	for _, alert := range alerts {
		price, ok := prices[alert.Asset]
		if !ok {
			continue
		}

		if price.Provenance == domain.ProvenanceStatic && !e.opts.FireOnStatic {
			e.logger.Debug().Int64("alert_id", alert.ID).Msg("skipping static-provenance price")
			continue
		}

		if !crossed(alert.Direction, price.Amount, alert.TargetPrice) {
			continue
		}

		won, err := e.alerts.MarkAlertTriggered(ctx, alert.ID, price.Amount, e.now())
		if err != nil {
			// Transition not persisted; the alert stays active and is
			// re-evaluated next tick.
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to persist triggered transition")
			continue
		}
		if !won {
			e.logger.Debug().Int64("alert_id", alert.ID).Msg("alert already triggered elsewhere")
			continue
		}

		e.logger.Info().Int64("alert_id", alert.ID).
			Str("asset", string(alert.Asset)).
			Str("direction", alert.Direction).
			Str("target", alert.TargetPrice.String()).
			Str("price", price.Amount.String()).
			Str("provenance", string(price.Provenance)).
			Msg("alert triggered")

		tokens, err := e.destinations.ListDeviceTokens(ctx, alert.OwnerRef)
		if err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to resolve destinations")
			e.appendAudit(ctx, skippedRecord(alert.ID, price.Amount, "destination lookup failed: "+err.Error()))
			continue
		}
		if len(tokens) == 0 || e.dispatcher == nil {
			// Triggered stays regardless; an owner with no destination
			// must not be re-evaluated forever.
			e.appendAudit(ctx, skippedRecord(alert.ID, price.Amount, "no delivery destination registered"))
			continue
		}

		fired = append(fired, firedAlert{alert: alert, amount: price.Amount, tokens: tokens})
	}

	if len(fired) == 0 {
		return nil
	}

	msgs := make([]PushMessage, 0, len(fired))
	refs := make([]messageRef, 0, len(fired))
	for _, f := range fired {
		for _, token := range f.tokens {
			msgs = append(msgs, buildMessage(token, f.alert, f.amount))
			refs = append(refs, messageRef{alertID: f.alert.ID, token: token, amount: f.amount})
		}
	}

	results := e.dispatcher.Send(ctx, msgs)
	delivered := 0
	for i, res := range results {
		rec := storage.NotificationRecord{
			AlertID:          refs[i].alertID,
			DestinationToken: refs[i].token,
			RequestedPrice:   refs[i].amount,
			Delivered:        res.OK,
		}
		if res.OK {
			receipt := res.ReceiptID
			rec.ReceiptID = &receipt
			delivered++
		} else {
			detail := res.ErrCode
			if res.Err != nil {
				detail = fmt.Sprintf("%s: %v", res.ErrCode, res.Err)
			}
			rec.ErrorDetail = &detail
		}
		e.appendAudit(ctx, rec)
	}

	e.logger.Info().Int("fired", len(fired)).Int("messages", len(msgs)).Int("delivered", delivered).Msg("alert cycle complete")
	return nil
}

func (e *Evaluator) appendAudit(ctx context.Context, rec storage.NotificationRecord) {
	if e.audit == nil {
		return
	}
	if err := e.audit.AppendNotificationRecord(ctx, rec); err != nil {
		e.logger.Error().Err(err).Int64("alert_id", rec.AlertID).Msg("failed to append notification audit row")
	}
}

func skippedRecord(alertID int64, amount decimal.Decimal, detail string) storage.NotificationRecord {
	return storage.NotificationRecord{
		AlertID:        alertID,
		RequestedPrice: amount,
		Delivered:      false,
		ErrorDetail:    &detail,
	}
}

// crossed applies the boundary-inclusive comparison: an alert at exactly
// the target price fires.
func crossed(direction string, price, target decimal.Decimal) bool {
	if direction == storage.DirectionBelow {
		return price.LessThanOrEqual(target)
	}
	return price.GreaterThanOrEqual(target)
}

func buildMessage(token string, alert storage.Alert, amount decimal.Decimal) PushMessage {
	title := fmt.Sprintf("Price alert: %s", alert.Asset)
	body := fmt.Sprintf("%s is %s your target of %s USD (current %s USD)",
		alert.Asset, alert.Direction, alert.TargetPrice.StringFixed(2), amount.StringFixed(2))

	return PushMessage{
		To:    token,
		Title: title,
		Body:  body,
		Data: map[string]string{
			"alert_id": fmt.Sprintf("%d", alert.ID),
			"asset":    string(alert.Asset),
			"price":    amount.String(),
		},
	}
}
