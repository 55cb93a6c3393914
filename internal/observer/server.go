package observer

import (
	"context"
	"log"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/sheetlink/companion/internal/dispatch"
	"github.com/sheetlink/companion/internal/profile"
)

// Companion is the part of the daemon the observer surface exposes.
type Companion interface {
	Status() map[string]interface{}
	MergedProfiles(ctx context.Context) (profile.MergeResult, error)
	Drain(ctx context.Context) dispatch.DrainResult
}

// Server wires the hub and the companion API onto one loopback listener.
type Server struct {
	app       *fiber.App
	hub       *Hub
	companion Companion
}

// NewServer creates the observer server
func NewServer(hub *Hub, companion Companion) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "SheetLink Companion",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	// Middleware
	app.Use(recover.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("sheetlink")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	s := &Server{app: app, hub: hub, companion: companion}

	// WebSocket route for views
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/views", websocket.New(s.handleView))

	// Companion API
	app.Get("/api/status", s.handleStatus)
	app.Get("/api/profiles", s.handleProfiles)
	app.Post("/api/drain", s.handleDrain)

	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	log.Printf("🚀 Observer surface listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(3 * time.Second)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	status := s.companion.Status()
	status["views"] = s.hub.Count()
	return c.JSON(status)
}

func (s *Server) handleProfiles(c *fiber.Ctx) error {
	merged, err := s.companion.MergedProfiles(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(merged)
}

func (s *Server) handleDrain(c *fiber.Ctx) error {
	return c.JSON(s.companion.Drain(c.Context()))
}

// handleView handles a new view WebSocket connection
func (s *Server) handleView(c *websocket.Conn) {
	viewID := uuid.New().String()
	done := make(chan struct{})

	view := &ViewConn{
		ID:        viewID,
		Conn:      c,
		SendChan:  make(chan ViewEvent, 32),
		CreatedAt: time.Now(),
	}

	s.hub.Add(view)
	defer func() {
		close(done)
		s.hub.Remove(viewID)
	}()

	// Views mostly listen; generous read deadline refreshed by pongs
	c.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	go s.pingLoop(view, done)
	go s.writeLoop(view)

	view.SendChan <- ViewEvent{Event: "connected", Payload: fiber.Map{"viewId": viewID}}

	s.readLoop(view)
}

// pingLoop keeps the view connection alive
func (s *Server) pingLoop(view *ViewConn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := view.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for view %s: %v", view.ID, err)
				return
			}
		}
	}
}

// writeLoop drains the view's send channel onto the socket
func (s *Server) writeLoop(view *ViewConn) {
	for event := range view.SendChan {
		view.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := view.Conn.WriteJSON(event); err != nil {
			log.Printf("⚠️ [HUB] Write to view %s failed: %v", view.ID, err)
			return
		}
	}
}

// readLoop handles messages from the view until it disconnects. Views only
// ever send pings and status probes.
func (s *Server) readLoop(view *ViewConn) {
	for {
		var msg ViewEvent
		if err := view.Conn.ReadJSON(&msg); err != nil {
			return
		}
		view.Conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		switch msg.Event {
		case "ping":
			s.send(view, ViewEvent{Event: "pong"})
		case "status":
			s.send(view, ViewEvent{Event: "status", Payload: s.companion.Status()})
		default:
			log.Printf("⚠️ [HUB] View %s sent unknown event %q", view.ID, msg.Event)
		}
	}
}

// send queues an event for one view, dropping it when the view lags
func (s *Server) send(view *ViewConn, event ViewEvent) {
	select {
	case view.SendChan <- event:
	default:
	}
}
