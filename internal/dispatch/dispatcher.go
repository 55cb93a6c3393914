package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sheetlink/companion/internal/logging"
	"github.com/sheetlink/companion/internal/metrics"
	"github.com/sheetlink/companion/internal/relay"
)

// CommandStore is the slice of the relay REST client the dispatcher reads
// rows from and writes status through.
type CommandStore interface {
	PendingCommands(ctx context.Context, pairingID string) ([]relay.CommandRecord, error)
	ClaimCommand(ctx context.Context, id string) (bool, error)
	CompleteCommand(ctx context.Context, id string, result json.RawMessage) error
	FailCommand(ctx context.Context, id, errorMessage string) error
}

// Broadcaster fans command effects out to attached views. It returns how
// many views actually got the event; delivery is best effort.
type Broadcaster interface {
	Broadcast(event string, payload interface{}) int
}

// ExecResult says what Execute did with one command row.
type ExecResult string

const (
	ResultCompleted ExecResult = "completed"
	ResultFailed    ExecResult = "failed"
	ResultSkipped   ExecResult = "skipped"
)

// DrainResult summarizes one backlog pass. RemoteAvailable false means the
// relay could not be reached and callers should treat the session as
// local-only until the next pass.
type DrainResult struct {
	Processed       int  `json:"processed"`
	Failed          int  `json:"failed"`
	Skipped         int  `json:"skipped"`
	RemoteAvailable bool `json:"remoteAvailable"`
	Collapsed       bool `json:"collapsed,omitempty"`
}

// Dispatcher executes command rows. Status reaches the relay before any
// effect leaves the process: claim before the handler runs, terminal status
// before the view broadcast. The terminal memo covers the window where a
// status write failed or the realtime push raced the drain, so redeliveries
// inside it are dropped without touching the sheet again.
type Dispatcher struct {
	commands CommandStore
	registry *Registry
	audit    *logging.Audit
	views    Broadcaster
	memo     *cache.Cache
	drainMu  sync.Mutex
	verbose  bool
}

// NewDispatcher creates a dispatcher over the given command store and
// handler registry.
func NewDispatcher(commands CommandStore, registry *Registry) *Dispatcher {
	return &Dispatcher{
		commands: commands,
		registry: registry,
		memo:     cache.New(10*time.Minute, 2*time.Minute),
	}
}

// SetAudit attaches the audit trail. Optional.
func (d *Dispatcher) SetAudit(audit *logging.Audit) {
	d.audit = audit
}

// SetBroadcaster attaches the view fan-out. Optional.
func (d *Dispatcher) SetBroadcaster(views Broadcaster) {
	d.views = views
}

// SetVerbose enables per-event debug logging.
func (d *Dispatcher) SetVerbose(v bool) {
	d.verbose = v
}

// Execute runs one command row through its handler. Safe to call with the
// same row more than once; redeliveries of finished work are skipped.
func (d *Dispatcher) Execute(ctx context.Context, rec relay.CommandRecord) ExecResult {
	start := time.Now()

	if relay.IsTerminal(rec.Status) {
		if d.verbose {
			log.Printf("[DISPATCH] Command %s already %s, ignoring redelivery", rec.ID, rec.Status)
		}
		return ResultSkipped
	}
	if status, seen := d.memo.Get(rec.ID); seen {
		log.Printf("🔄 [DISPATCH] Command %s finished recently (%v), ignoring redelivery", rec.ID, status)
		return ResultSkipped
	}

	switch rec.Status {
	case relay.StatusPending:
		claimed, err := d.commands.ClaimCommand(ctx, rec.ID)
		if err != nil {
			// Row stays pending on the relay; a later drain picks it up.
			log.Printf("⚠️ [DISPATCH] Could not claim command %s: %v", rec.ID, err)
			return ResultSkipped
		}
		if !claimed {
			log.Printf("🔀 [DISPATCH] Command %s claimed elsewhere, skipping", rec.ID)
			return ResultSkipped
		}
	case relay.StatusProcessing:
		// Another companion holds the claim. Stuck rows are requeued by the
		// relay's cleanup job, not by us.
		log.Printf("🔄 [DISPATCH] Command %s is mid-flight elsewhere, skipping", rec.ID)
		return ResultSkipped
	}

	handler, ok := d.registry.Get(rec.Type)
	if !ok {
		return d.fail(rec, fmt.Sprintf("unknown command type %q", rec.Type), start)
	}

	args := map[string]interface{}{}
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, &args); err != nil {
			return d.fail(rec, fmt.Sprintf("malformed command data: %v", err), start)
		}
	}

	effect, err := d.run(ctx, handler, rec, args)
	if err != nil {
		return d.fail(rec, err.Error(), start)
	}
	return d.complete(rec, effect, start)
}

// run executes the handler, converting a panic into a plain error so one bad
// command cannot take the dispatcher down.
func (d *Dispatcher) run(ctx context.Context, handler Handler, rec relay.CommandRecord, args map[string]interface{}) (effect *Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ [DISPATCH] Recovered from panic in %s handler: %v", handler.Name(), r)
			effect = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, rec, args)
}

func (d *Dispatcher) complete(rec relay.CommandRecord, effect *Effect, start time.Time) ExecResult {
	result, err := json.Marshal(effect)
	if err != nil {
		return d.fail(rec, fmt.Sprintf("encode result: %v", err), start)
	}

	// Status writes use their own context: a cancelled drain must not leave
	// an executed command stuck in processing.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.commands.CompleteCommand(ctx, rec.ID, result); err != nil {
		// The handler already ran. Remember the outcome locally so a
		// redelivery does not apply the effect twice while the row sits in
		// processing on the relay.
		log.Printf("⚠️ [DISPATCH] Command %s done but status write failed: %v", rec.ID, err)
	}
	d.memo.Set(rec.ID, relay.StatusCompleted, cache.DefaultExpiration)

	duration := time.Since(start)
	d.audit.Command(rec.ID, rec.Type, rec.PairingID, string(relay.StatusCompleted), "", duration)
	if m := metrics.Get(); m != nil {
		m.RecordCommand(rec.Type, string(ResultCompleted), duration.Seconds())
	}

	d.broadcast("command_completed", effect)
	log.Printf("✅ [DISPATCH] Command %s (%s) completed in %v", rec.ID, rec.Type, duration.Round(time.Millisecond))
	return ResultCompleted
}

func (d *Dispatcher) fail(rec relay.CommandRecord, message string, start time.Time) ExecResult {
	if message == "" {
		message = "command failed"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.commands.FailCommand(ctx, rec.ID, message); err != nil {
		log.Printf("⚠️ [DISPATCH] Command %s failed and the status write failed too: %v", rec.ID, err)
	}
	d.memo.Set(rec.ID, relay.StatusFailed, cache.DefaultExpiration)

	duration := time.Since(start)
	d.audit.Command(rec.ID, rec.Type, rec.PairingID, string(relay.StatusFailed), message, duration)
	if m := metrics.Get(); m != nil {
		m.RecordCommand(rec.Type, string(ResultFailed), duration.Seconds())
	}

	d.broadcast("command_failed", map[string]interface{}{
		"commandId": rec.ID,
		"kind":      rec.Type,
		"error":     message,
	})
	log.Printf("❌ [DISPATCH] Command %s (%s) failed: %s", rec.ID, rec.Type, message)
	return ResultFailed
}

// broadcast fans an event out to whatever views are attached. Views that
// lag just miss the event.
func (d *Dispatcher) broadcast(event string, payload interface{}) {
	if d.views == nil {
		return
	}
	delivered := d.views.Broadcast(event, payload)
	if d.verbose {
		log.Printf("[DISPATCH] Broadcast %s to %d view(s)", event, delivered)
	}
}

// DrainBacklog fetches and executes every pending command for the pairing,
// oldest first. Concurrent calls collapse into the pass already running.
func (d *Dispatcher) DrainBacklog(ctx context.Context, pairingID string) DrainResult {
	if !d.drainMu.TryLock() {
		log.Println("🔄 [DRAIN] Drain already running, skipping")
		return DrainResult{RemoteAvailable: true, Collapsed: true}
	}
	defer d.drainMu.Unlock()

	rows, err := d.commands.PendingCommands(ctx, pairingID)
	if err != nil {
		if errors.Is(err, relay.ErrRelayUnavailable) {
			log.Printf("⚠️ [DRAIN] Relay unreachable, staying on local data: %v", err)
			return DrainResult{RemoteAvailable: false}
		}
		log.Printf("❌ [DRAIN] Could not fetch backlog: %v", err)
		return DrainResult{RemoteAvailable: true}
	}

	if m := metrics.Get(); m != nil {
		m.RecordDrain(len(rows))
	}

	res := DrainResult{RemoteAvailable: true}
	if len(rows) == 0 {
		if d.verbose {
			log.Printf("[DRAIN] No pending commands for pairing %s", pairingID)
		}
		return res
	}

	log.Printf("📦 [DRAIN] %d pending command(s) for pairing %s", len(rows), pairingID)
	for _, rec := range rows {
		if ctx.Err() != nil {
			break
		}
		switch d.Execute(ctx, rec) {
		case ResultCompleted:
			res.Processed++
		case ResultFailed:
			res.Failed++
		case ResultSkipped:
			res.Skipped++
		}
	}
	log.Printf("📦 [DRAIN] Done: %d completed, %d failed, %d skipped", res.Processed, res.Failed, res.Skipped)
	return res
}
