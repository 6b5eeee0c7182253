package telegram

import (
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ottobot/internal/config"
	"ottobot/internal/credits"
	"ottobot/internal/metrics"
	"ottobot/internal/platform"
	"ottobot/internal/queue"
	"ottobot/internal/session"
)

type Service struct {
	sessions    *session.Store
	credits     *credits.Controller
	api         platform.API
	queue       *queue.StreamQueue
	rateLimiter *queue.RateLimiter
	askLock     *queue.AskLock
	wizard      *wizardStore
	featured    []config.AgentRef
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

type Config struct {
	Sessions    *session.Store
	Credits     *credits.Controller
	API         platform.API
	Queue       *queue.StreamQueue
	RateLimiter *queue.RateLimiter
	Redis       *redis.Client
	Featured    []config.AgentRef
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	WizardTTL   time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.WizardTTL <= 0 {
		cfg.WizardTTL = 20 * time.Minute
	}
	return &Service{
		sessions:    cfg.Sessions,
		credits:     cfg.Credits,
		api:         cfg.API,
		queue:       cfg.Queue,
		rateLimiter: cfg.RateLimiter,
		askLock:     queue.NewAskLock(cfg.Redis),
		wizard:      newWizardStore(cfg.Redis, cfg.WizardTTL),
		featured:    cfg.Featured,
		logger:      cfg.Logger,
		metrics:     m,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("login", s.login))
	d.AddHandler(handlers.NewCommand("logout", s.logout))
	d.AddHandler(handlers.NewCommand("credits", s.creditsCmd))
	d.AddHandler(handlers.NewCommand("topup", s.topup))
	d.AddHandler(handlers.NewCommand("autotopup", s.autoTopUp))
	d.AddHandler(handlers.NewCommand("history", s.history))
	d.AddHandler(handlers.NewCommand("onboarding", s.onboarding))
	d.AddHandler(handlers.NewCommand("context", s.contextToggle))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}
