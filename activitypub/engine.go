package activitypub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

// Engine owns all federation state: the bounded inbound queue, the
// actor/key cache, the policy snapshot and the outbound send registry.
// One instance exists per process and is passed by reference to the
// web router and the TUI.
type Engine struct {
	db     *db.DB
	conf   *util.AppConfig
	Actors *ActorCache
	Policy *Policy
	Queue  *InboundQueue
	Sends  *SendRegistry

	sessionOnce sync.Once
	session     *http.Client
}

func NewEngine(database *db.DB, conf *util.AppConfig) *Engine {
	return &Engine{
		db:     database,
		conf:   conf,
		Actors: NewActorCache(database, time.Duration(conf.Conf.ActorMaxAgeHours)*time.Hour),
		Policy: NewPolicy(database, conf),
		Queue:  NewInboundQueue(database, conf.Conf.MaxQueueItems),
		Sends: NewSendRegistry(
			time.Duration(conf.Conf.DeliveryThreadTtlMin)*time.Minute,
		),
	}
}

// Start launches the supervised background loops. They run until the
// context is cancelled and are restarted by the watchdog if they die.
func (e *Engine) Start(ctx context.Context) {
	interval := time.Duration(e.conf.Conf.WatchdogIntervalSec) * time.Second
	go Supervise(ctx, "queue-worker", interval, e.RunQueueWorker)
	go Supervise(ctx, "delivery-reaper", interval, e.RunReaper)
}

// Session returns the shared outbound HTTP client, created on first use.
func (e *Engine) Session() *http.Client {
	e.sessionOnce.Do(func() {
		e.session = &http.Client{
			Timeout: time.Duration(e.conf.Conf.DeliveryTimeoutSec) * time.Second,
		}
	})
	return e.session
}

func (e *Engine) DB() *db.DB {
	return e.db
}

func (e *Engine) Conf() *util.AppConfig {
	return e.conf
}
