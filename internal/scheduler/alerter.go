package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/notify"
	"github.com/hamed0406/netprobe/internal/repo"
)

// Alert kinds, also used as the metrics label.
const (
	AlertDown      = "down"
	AlertRecovered = "recovered"
	AlertCert      = "cert_expiring"
)

// AlertCounter is told about every notification sent. *metrics.Metrics
// satisfies it.
type AlertCounter interface {
	AlertSent(kind string)
}

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	PollInterval    time.Duration
	CertWarnDays    int // 0 disables certificate alerts
}

type Alerter struct {
	log      *zap.Logger
	results  repo.ResultStore
	alertDB  repo.AlertStore
	notifier notify.Notifier
	counter  AlertCounter
	cfg      AlerterConfig
	now      func() time.Time
}

func NewAlerter(
	log *zap.Logger,
	results repo.ResultStore,
	alertDB repo.AlertStore,
	notifier notify.Notifier,
	counter AlertCounter,
	cfg AlerterConfig,
) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Alerter{
		log:      log,
		results:  results,
		alertDB:  alertDB,
		notifier: notifier,
		counter:  counter,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	// initial pass
	a.logScan(a.scanOnce(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.logScan(a.scanOnce(ctx))
		}
	}
}

func (a *Alerter) logScan(err error) {
	if err != nil {
		a.log.Warn("alerter_scan_error", zap.Error(err))
	}
}

func (a *Alerter) scanOnce(ctx context.Context) error {
	rows, err := a.results.Latest(ctx)
	if err != nil {
		return err
	}

	now := a.now()
	for _, r := range rows {
		key := repo.AlertKey(r.TargetID, r.Probe)

		title := "🔴 Target DOWN"
		kind := AlertDown
		if r.OK {
			title, kind = "🟢 Target RECOVERED", AlertRecovered
		}
		a.evaluate(ctx, key, r.OK, kind, title, describe(r), a.cfg.AlertOnRecovery, now)

		if a.cfg.CertWarnDays > 0 && r.OK && r.DaysRemaining != nil {
			healthy := *r.DaysRemaining >= a.cfg.CertWarnDays
			text := fmt.Sprintf("Host: %s\nProbe: %s\nDays remaining: %d\nChecked: %s",
				r.Host, r.Probe, *r.DaysRemaining, r.CheckedAt.Format(time.RFC3339))
			// a renewed certificate clears the state silently
			a.evaluate(ctx, "cert|"+key, healthy, AlertCert, "🟠 Certificate EXPIRING", text, false, now)
		}
	}
	return nil
}

// evaluate applies the state machine of one alert key. A change to the bad
// state alerts once the cooldown has passed; a change back alerts only when
// alertOnGood is set, and bypasses the cooldown.
func (a *Alerter) evaluate(ctx context.Context, key string, good bool, kind, title, text string, alertOnGood bool, now time.Time) {
	rec, err := a.alertDB.Get(ctx, key)
	if err != nil {
		a.log.Warn("alert_state_read_error", zap.String("key", key), zap.Error(err))
		return
	}

	// Has the state changed compared to what we last recorded?
	stateChanged := rec == nil || rec.LastState != good

	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	// first sighting of a healthy key is not a recovery
	goodAlert := stateChanged && good && alertOnGood && rec != nil
	badAlert := stateChanged && !good && cooled

	if badAlert || goodAlert {
		if err := a.notifier.Send(ctx, title, text); err != nil {
			// state stays as it was so the next scan tries again
			a.log.Warn("alert_send_error", zap.String("key", key), zap.String("kind", kind), zap.Error(err))
			return
		}
		a.log.Info("alert_sent", zap.String("key", key), zap.String("kind", kind))
		if a.counter != nil {
			a.counter.AlertSent(kind)
		}
		if err := a.alertDB.Set(ctx, key, good, now); err != nil {
			a.log.Warn("alert_state_write_error", zap.String("key", key), zap.Error(err))
		}
		return
	}

	// If state changed but we did not send (e.g., DOWN within cooldown or
	// recovery alerts disabled), still record the new state and keep the
	// last send time so the cooldown survives flapping.
	if stateChanged {
		var sentAt time.Time
		if rec != nil && rec.LastSentAt != nil {
			sentAt = *rec.LastSentAt
		}
		if err := a.alertDB.Set(ctx, key, good, sentAt); err != nil {
			a.log.Warn("alert_state_write_error", zap.String("key", key), zap.Error(err))
		}
	}
}

func describe(r repo.LatestRow) string {
	reason := r.Reason
	if reason == "" {
		reason = "ok"
	}
	return fmt.Sprintf(
		"Host: %s\nProbe: %s\nLatency: %.0f ms\nReason: %s\nChecked: %s",
		r.Host, r.Probe, r.ElapsedMS, reason, r.CheckedAt.Format(time.RFC3339),
	)
}
