// Package daemon assembles the companion: config, local cache, relay client,
// realtime supervisor, command dispatcher, observer surface and the
// background schedules that keep all of it honest.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/dispatch"
	"github.com/sheetlink/companion/internal/logging"
	"github.com/sheetlink/companion/internal/metrics"
	"github.com/sheetlink/companion/internal/observer"
	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/relay"
	"github.com/sheetlink/companion/internal/rules"
	"github.com/sheetlink/companion/internal/store"
)

// Daemon is the running companion.
type Daemon struct {
	cfg        *config.Config
	store      *store.Local
	client     *relay.Client
	supervisor *relay.Supervisor
	dispatcher *dispatch.Dispatcher
	reconciler *profile.Reconciler
	hub        *observer.Hub
	server     *observer.Server
	audit      *logging.Audit
	scheduler  gocron.Scheduler

	mu             sync.RWMutex // guards cfg swaps on hot reload
	lastReconnects int
	started        time.Time
}

// New assembles a daemon from the loaded config. Nothing is listening or
// connected yet; Run does that.
func New(cfg *config.Config, verbose bool) (*Daemon, error) {
	var cipher *store.Cipher
	if key := os.Getenv("SHEETLINK_CACHE_KEY"); key != "" {
		c, err := store.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("daemon: cache key: %w", err)
		}
		cipher = c
		log.Println("🔒 Cache encryption enabled")
	}

	st, err := store.Open(cfg.CachePath, cipher)
	if err != nil {
		return nil, err
	}

	client := relay.NewClient(cfg.APIBase(), cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}

	audit, err := logging.NewAudit(filepath.Join(config.GetConfigDir(), "logs"))
	if err != nil {
		log.Printf("⚠️ Audit trail disabled: %v", err)
		audit = nil
	}

	engine := rules.NewStandard(rules.NewTimeRoller())
	registry := dispatch.NewRegistry(st, engine)
	dispatcher := dispatch.NewDispatcher(client, registry)
	dispatcher.SetAudit(audit)
	dispatcher.SetVerbose(verbose)

	hub := observer.NewHub()
	dispatcher.SetBroadcaster(hub)

	tokenExpiry := int64(0)
	if cfg.AccessToken != "" {
		if exp, err := relay.ParseTokenExpiry(cfg.AccessToken); err == nil {
			tokenExpiry = exp
		}
	}

	supervisor := relay.NewSupervisor(client, relay.Options{
		RelayURL:       cfg.RelayURL,
		APIKey:         cfg.APIKey,
		ClientID:       cfg.ClientID,
		AccessToken:    cfg.AccessToken,
		RefreshToken:   cfg.RefreshToken,
		TokenExpiry:    tokenExpiry,
		Heartbeat:      cfg.Heartbeat(),
		ReconnectDelay: cfg.ReconnectDelay(),
		Verbose:        verbose,
	})

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("daemon: create scheduler: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		store:      st,
		client:     client,
		supervisor: supervisor,
		dispatcher: dispatcher,
		reconciler: profile.NewReconciler(),
		hub:        hub,
		audit:      audit,
		scheduler:  scheduler,
	}
	d.server = observer.NewServer(hub, d)

	supervisor.SetCommandHandler(d.onCommand)
	supervisor.SetReadyHandler(d.onReady)
	supervisor.SetTokenRefreshHandler(d.onTokenRefresh)
	supervisor.SetStateChangeHandler(d.onStateChange)

	return d, nil
}

// Run starts the companion and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()
	metrics.Init(d.hub.Count)

	// Adopt the pairing: config first, then whatever the cache remembers
	pairing := d.currentPairing()
	if pairing != "" {
		if err := d.store.SetPairingID(pairing); err != nil {
			log.Printf("⚠️ Could not cache pairing id: %v", err)
		}
		d.supervisor.Subscribe(pairing)
	} else {
		log.Println("⚠️ Not paired yet. Run: sheetlink pair <code>")
	}

	if err := d.startSchedules(); err != nil {
		return err
	}
	go d.watchConfig(ctx)

	errChan := make(chan error, 1)
	if d.cfg.Hub.Enabled {
		go func() {
			if err := d.server.Start(d.cfg.Hub.Addr); err != nil {
				errChan <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errChan:
		log.Printf("❌ Observer surface failed: %v", err)
		d.shutdown()
		return err
	}

	log.Println("🛑 Shutting down...")
	d.shutdown()
	log.Println("👋 Goodbye!")
	return nil
}

func (d *Daemon) shutdown() {
	d.supervisor.Close()
	if err := d.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ Scheduler shutdown: %v", err)
	}
	if d.cfg.Hub.Enabled {
		if err := d.server.Shutdown(); err != nil {
			log.Printf("⚠️ Observer shutdown: %v", err)
		}
	}
	d.audit.Close()
	if err := d.store.Close(); err != nil {
		log.Printf("⚠️ Cache close: %v", err)
	}
}

// startSchedules registers the background jobs: the keepalive pass that
// restores a dead subscription, and the safety drain that re-reads the
// backlog in case a realtime push was missed.
func (d *Daemon) startSchedules() error {
	_, err := d.scheduler.NewJob(
		gocron.DurationJob(d.cfg.Keepalive()),
		gocron.NewTask(d.supervisor.Keepalive),
		gocron.WithName("relay-keepalive"),
	)
	if err != nil {
		return fmt.Errorf("daemon: keepalive job: %w", err)
	}

	_, err = d.scheduler.NewJob(
		gocron.DurationJob(d.cfg.AutoDrain()),
		gocron.NewTask(d.safetyDrain),
		gocron.WithName("safety-drain"),
	)
	if err != nil {
		return fmt.Errorf("daemon: drain job: %w", err)
	}

	d.scheduler.Start()
	log.Printf("⏰ Schedules started (keepalive %v, safety drain %v)", d.cfg.Keepalive(), d.cfg.AutoDrain())
	return nil
}

func (d *Daemon) safetyDrain() {
	pairing := d.currentPairing()
	if pairing == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	d.dispatcher.DrainBacklog(ctx, pairing)
}

// currentPairing prefers the live config, falling back to the cached id so
// a restart without config (or with a stale one) still finds its pairing.
func (d *Daemon) currentPairing() string {
	d.mu.RLock()
	pairing := d.cfg.PairingID
	d.mu.RUnlock()
	if pairing != "" {
		return pairing
	}
	cached, err := d.store.PairingID()
	if err != nil {
		return ""
	}
	return cached
}

// onCommand handles one realtime command push.
func (d *Daemon) onCommand(rec relay.CommandRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.dispatcher.Execute(ctx, rec)
}

// onReady runs when a subscription goes live: drain whatever queued up
// while we were away, then push our sheets so the chat side stays current.
func (d *Daemon) onReady(pairingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	d.dispatcher.DrainBacklog(ctx, pairingID)
	d.syncProfiles(ctx, pairingID)
}

// onTokenRefresh persists rotated tokens so the next start uses them.
func (d *Daemon) onTokenRefresh(accessToken, refreshToken string, expiry int64) {
	d.mu.Lock()
	d.cfg.AccessToken = accessToken
	if refreshToken != "" {
		d.cfg.RefreshToken = refreshToken
	}
	cfg := *d.cfg
	d.mu.Unlock()

	if err := config.Save(&cfg); err != nil {
		log.Printf("⚠️ Could not persist refreshed tokens: %v", err)
	}
}

// onStateChange mirrors supervisor transitions into metrics and the views.
func (d *Daemon) onStateChange(sess relay.PairingSession) {
	if m := metrics.Get(); m != nil {
		m.RecordRelayState(string(sess.State))
		d.mu.Lock()
		if sess.Reconnects > d.lastReconnects {
			d.lastReconnects = sess.Reconnects
			m.RecordReconnect()
		}
		d.mu.Unlock()
	}
	d.hub.Broadcast("session", sess)
}

// syncProfiles pushes local sheets to the relay so the chat side can render
// pickers with current names and colors. Remote-sourced entries are not
// echoed back.
func (d *Daemon) syncProfiles(ctx context.Context, pairing string) {
	profiles, err := d.store.Profiles()
	if err != nil {
		log.Printf("⚠️ Profile sync skipped: %v", err)
		return
	}

	pushed := 0
	for _, p := range profiles {
		if p.Source == profile.SourceRemote {
			continue
		}
		raw, err := json.Marshal(p.Sheet)
		if err != nil {
			continue
		}
		rp := relay.RemoteProfile{
			ID:        p.ExternalID,
			PairingID: pairing,
			Name:      p.Sheet.Name,
			Class:     p.Sheet.Class,
			Level:     p.Sheet.Level,
			Color:     p.Sheet.Color,
			AvatarURL: p.Sheet.AvatarURL,
			Sheet:     raw,
		}
		if err := d.client.UpsertProfile(ctx, rp); err != nil {
			log.Printf("⚠️ Could not push profile %s: %v", p.Sheet.Name, err)
			continue
		}
		pushed++
	}
	if pushed > 0 {
		log.Printf("📦 Pushed %d profile(s) to relay", pushed)
	}
}

// Status implements observer.Companion.
func (d *Daemon) Status() map[string]interface{} {
	sess := d.supervisor.Session()
	active, _ := d.store.ActiveProfileKey()
	return map[string]interface{}{
		"pairing":       d.currentPairing(),
		"session":       sess,
		"activeProfile": active,
		"uptimeSeconds": int(time.Since(d.started).Seconds()),
	}
}

// MergedProfiles implements observer.Companion. When the relay cannot be
// reached the local entries come back on their own with RemoteAvailable
// false; callers surface that as local-only mode, not as an error.
func (d *Daemon) MergedProfiles(ctx context.Context) (profile.MergeResult, error) {
	local, err := d.store.Profiles()
	if err != nil {
		return profile.MergeResult{}, err
	}

	pairing := d.currentPairing()
	if pairing == "" {
		return d.reconciler.LocalOnly(local), nil
	}

	remote, err := d.client.Profiles(ctx, pairing)
	if err != nil {
		log.Printf("⚠️ Profile fetch failed, using local data: %v", err)
		return d.reconciler.LocalOnly(local), nil
	}
	return d.reconciler.Merge(local, remote), nil
}

// Drain implements observer.Companion.
func (d *Daemon) Drain(ctx context.Context) dispatch.DrainResult {
	pairing := d.currentPairing()
	if pairing == "" {
		return dispatch.DrainResult{}
	}
	return d.dispatcher.DrainBacklog(ctx, pairing)
}

// watchConfig hot-reloads the config file. Pairing and token changes apply
// live; everything else needs a restart.
func (d *Daemon) watchConfig(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ Failed to create config watcher: %v", err)
		return
	}
	defer watcher.Close()

	path := config.GetConfigPath()
	filename := filepath.Base(path)

	// Watch the directory containing the file (more reliable than watching
	// the file directly)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Printf("⚠️ Failed to watch %s: %v", filepath.Dir(path), err)
		return
	}
	log.Printf("👁️ Watching %s for changes (hot-reload enabled)", path)

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, d.reloadConfig)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Config watcher error: %v", err)
		}
	}
}

// reloadConfig re-reads the config file and applies what can change live.
func (d *Daemon) reloadConfig() {
	fresh, err := config.Load()
	if err != nil {
		log.Printf("❌ Failed to reload config: %v", err)
		return
	}

	d.mu.Lock()
	oldPairing := d.cfg.PairingID
	oldAccess := d.cfg.AccessToken
	d.cfg = fresh
	d.mu.Unlock()

	if fresh.AccessToken != oldAccess {
		expiry := int64(0)
		if exp, err := relay.ParseTokenExpiry(fresh.AccessToken); err == nil {
			expiry = exp
		}
		d.supervisor.SetTokens(fresh.AccessToken, fresh.RefreshToken, expiry)
		log.Println("🔄 Tokens updated from config")
	}

	if fresh.PairingID != oldPairing {
		log.Printf("🔄 Pairing changed: %q → %q", oldPairing, fresh.PairingID)
		if err := d.store.SetPairingID(fresh.PairingID); err != nil {
			log.Printf("⚠️ Could not cache pairing id: %v", err)
		}
		if fresh.PairingID == "" {
			d.supervisor.Unsubscribe()
		} else {
			d.supervisor.Subscribe(fresh.PairingID)
		}
	}
}
