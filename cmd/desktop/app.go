package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/eodiceanne-star/heard-app-beta/cmd/desktop/handlers"
	"github.com/eodiceanne-star/heard-app-beta/internal/auth"
	"github.com/eodiceanne-star/heard-app-beta/internal/config"
	"github.com/eodiceanne-star/heard-app-beta/internal/db"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
	"github.com/eodiceanne-star/heard-app-beta/internal/services"
	"github.com/eodiceanne-star/heard-app-beta/internal/store"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/connectivity"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/scheduler"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/transport"
)

// app holds the wired sync core.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	logCloser io.Closer

	db       *db.DB
	kv       *db.KV
	store    *store.Store
	queue    *queue.Queue
	client   *transport.Client
	sessions *auth.Sessions
	data     *services.DataService
	sched    *scheduler.Scheduler
	monitor  *connectivity.Monitor
	watcher  *db.Watcher
	hub      *WSHub

	unsubscribe func()
}

// newApp opens the local store and wires every component. Nothing runs in
// the background until start.
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.Setup(cfg.LogOptions())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	a.db, err = db.Open(cfg.Storage.DataDir)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	a.kv = db.NewKV(a.db)
	a.store = store.New(a.kv, store.WithQuota(cfg.Storage.QuotaChars), store.WithLogger(logger))
	a.queue = queue.New(a.store,
		queue.WithMaxRetries(cfg.Sync.MaxRetries),
		queue.WithLogger(logger),
	)
	a.sessions = auth.NewSessions(a.store, logger)
	a.client = transport.New(cfg.API.BaseURL,
		transport.WithTimeout(cfg.API.Timeout),
		transport.WithUserID(a.sessions.CurrentUserID),
		transport.WithLogger(logger),
	)
	a.data = services.NewDataService(a.store, a.queue, services.WithLogger(logger))
	a.sched = scheduler.NewScheduler(a.queue, a.client.Deliver,
		&scheduler.SchedulerConfig{
			SyncInterval: cfg.Sync.Interval,
			SettleDelay:  cfg.Sync.SettleDelay,
			DrainTimeout: cfg.Sync.DrainTimeout,
		},
		scheduler.WithAckHandler(a.data.MarkSynced),
		scheduler.WithLogger(logger),
	)
	a.data.SetNotifier(a.sched)

	if cfg.Connectivity.Enabled {
		a.monitor = connectivity.New(a.client, cfg.API.HealthPath, cfg.Connectivity.CheckInterval, a.sched.SetOnlineStatus)
		a.monitor.SetLogger(logger)
	}
	return a, nil
}

// checkOnline checks the API once and records the result.
func (a *app) checkOnline(ctx context.Context) bool {
	if a.monitor == nil {
		return a.sched.IsOnline()
	}
	return a.monitor.Check(ctx)
}

// start runs the scheduler, the connectivity monitor and the database
// watcher, and starts pushing status to WebSocket clients.
func (a *app) start(ctx context.Context) error {
	a.hub = NewWSHub(a.logger)
	a.unsubscribe = a.sched.Subscribe(a.hub.BroadcastStatus)

	a.sched.Start(ctx)
	if a.monitor != nil {
		a.monitor.Start(ctx)
	}

	// Another process writing the same data directory changes the queue
	// behind our back; the watcher keeps the published status current.
	w, err := db.NewWatcher(a.db.Path(), 250*time.Millisecond, a.sched.Refresh)
	if err != nil {
		return err
	}
	w.OnError(func(err error) {
		a.logger.Warn("Database watcher error", map[string]interface{}{"error": err.Error()})
	})
	if err := w.Start(); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// routes registers the local HTTP API.
func (a *app) routes() *http.ServeMux {
	syncHandler := handlers.NewSyncHandler(a.sched, a.cfg.Sync.DrainTimeout)
	dataHandler := handlers.NewDataHandler(a.data)
	dataHandler.OnImport(func(res *services.ImportResult) {
		a.sched.Refresh()
		if a.hub != nil {
			a.hub.BroadcastImported(res.Imported, res.Skipped)
		}
	})
	profileHandler := handlers.NewProfileHandler(a.data)
	communityHandler := handlers.NewCommunityHandler(a.data)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"heard-sync"}`))
	})

	mux.HandleFunc("/api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("/api/sync/now", syncHandler.SyncNow)
	mux.HandleFunc("/api/sync/queue", syncHandler.Queue)
	mux.HandleFunc("/api/sync/foreground", syncHandler.Foreground)
	if a.hub != nil {
		mux.HandleFunc("GET /api/sync/ws", HandleWebSocket(a.hub, a.sched.Status))
	}

	mux.HandleFunc("/api/data/status", dataHandler.GetStatus)
	mux.HandleFunc("/api/data/export", dataHandler.Export)
	mux.HandleFunc("/api/data/import", dataHandler.Import)

	mux.HandleFunc("GET /api/profile", profileHandler.Get)
	mux.HandleFunc("PUT /api/profile", profileHandler.Update)

	handlers.NewCollectionHandler[models.SymptomEntry](a.data.Symptoms,
		handlers.WithValidator(handlers.ValidateSymptom)).Mount(mux, "/api"+models.Symptoms.Endpoint)
	handlers.NewCollectionHandler[models.Appointment](a.data.Appointments,
		handlers.WithValidator(handlers.ValidateAppointment)).Mount(mux, "/api"+models.Appointments.Endpoint)
	handlers.NewCollectionHandler[models.Doctor](a.data.Doctors,
		handlers.WithValidator(handlers.ValidateDoctor),
		handlers.WithRemover[models.Doctor](a.data.RemoveDoctor)).Mount(mux, "/api"+models.Doctors.Endpoint)
	handlers.NewCollectionHandler[models.Review](a.data.Reviews,
		handlers.WithValidator(handlers.ValidateReview)).Mount(mux, "/api"+models.Reviews.Endpoint)
	handlers.NewCollectionHandler[models.ForumThread](a.data.Forum,
		handlers.WithValidator(handlers.ValidateThread)).Mount(mux, "/api"+models.Forum.Endpoint)
	handlers.NewCollectionHandler[models.MusicTrack](a.data.Music,
		handlers.WithValidator(handlers.ValidateTrack)).Mount(mux, "/api"+models.Music.Endpoint)
	handlers.NewCollectionHandler[models.CustomQuestion](a.data.Questions,
		handlers.WithValidator(handlers.ValidateQuestion)).Mount(mux, "/api"+models.Questions.Endpoint)

	mux.HandleFunc("POST /api/doctors/{id}/reviews", communityHandler.AddReview)
	mux.HandleFunc("POST /api/forum/threads/{id}/comments", communityHandler.AddComment)
	return mux
}

// close stops background work and releases the store.
func (a *app) close() {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Failed to stop database watcher", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	a.sched.Stop()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("Failed to close statements", map[string]interface{}{"error": err.Error()})
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database", err)
	}
	a.logCloser.Close()
}
