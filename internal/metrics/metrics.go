package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal   prometheus.Counter
	UpdatesDeduped prometheus.Counter
	RateLimited    prometheus.Counter

	AsksEnqueued     prometheus.Counter
	AsksAnswered     prometheus.Counter
	AsksFailed       prometheus.Counter
	AsksUnauthorized prometheus.Counter

	CreditFetches     prometheus.Counter
	TopupsStarted     prometheus.Counter
	WizardCompletions prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			UpdatesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "telegram_updates_deduped_total",
				Help:      "Total telegram updates dropped as duplicates",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "rate_limited_total",
				Help:      "Total interactions rejected by the per-user rate limit",
			}),
			AsksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "asks_enqueued_total",
				Help:      "Total ask jobs enqueued to the redis stream",
			}),
			AsksAnswered: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "asks_answered_total",
				Help:      "Total ask jobs answered successfully",
			}),
			AsksFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "asks_failed_total",
				Help:      "Total ask jobs that ended in a failure notice",
			}),
			AsksUnauthorized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "asks_unauthorized_total",
				Help:      "Total ask jobs rejected by the platform with 401",
			}),
			CreditFetches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "credit_fetches_total",
				Help:      "Total balance fetches against the platform API",
			}),
			TopupsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "topups_started_total",
				Help:      "Total checkout sessions handed off to hosted checkout",
			}),
			WizardCompletions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ottobot",
				Name:      "wizard_completions_total",
				Help:      "Total onboarding wizard flows completed",
			}),
		}
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.UpdatesDeduped,
			global.RateLimited,
			global.AsksEnqueued,
			global.AsksAnswered,
			global.AsksFailed,
			global.AsksUnauthorized,
			global.CreditFetches,
			global.TopupsStarted,
			global.WizardCompletions,
		)
	})
	return global
}
