package relay

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrAuthenticationFailed indicates the relay rejected our credentials
var ErrAuthenticationFailed = errors.New("authentication failed")

// Options configure a Supervisor. Zero durations fall back to defaults.
type Options struct {
	RelayURL       string
	APIKey         string
	ClientID       string
	AccessToken    string
	RefreshToken   string
	TokenExpiry    int64
	Heartbeat      time.Duration
	ReconnectDelay time.Duration
	Verbose        bool
}

// Supervisor owns the realtime subscription for the active pairing. It holds
// exactly one live channel at a time, heartbeats it, rebuilds it after a
// fixed delay when it drops, and hands inbound command rows off to the
// dispatcher. Connection failures are logged and retried, never returned to
// callers.
type Supervisor struct {
	relayURL string
	apiKey   string
	clientID string
	client   *Client

	authToken    string
	refreshToken string
	tokenExpiry  int64
	authFailed   bool

	conn      *websocket.Conn
	writeChan chan Envelope
	stopChan  chan struct{}
	connDone  chan struct{}
	writeWg   sync.WaitGroup
	mutex     sync.RWMutex

	desired       string
	dialing       bool
	everConnected bool
	session       PairingSession

	heartbeatEvery time.Duration
	reconnectDelay time.Duration

	onCommand      func(CommandRecord)
	onReady        func(pairingID string)
	onTokenRefresh func(accessToken, refreshToken string, expiry int64)
	onStateChange  func(PairingSession)

	verbose bool
}

// NewSupervisor creates a supervisor using the given REST client for token
// refreshes.
func NewSupervisor(client *Client, opts Options) *Supervisor {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	reconnect := opts.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 3 * time.Second
	}

	return &Supervisor{
		relayURL:       opts.RelayURL,
		apiKey:         opts.APIKey,
		clientID:       opts.ClientID,
		client:         client,
		authToken:      opts.AccessToken,
		refreshToken:   opts.RefreshToken,
		tokenExpiry:    opts.TokenExpiry,
		writeChan:      make(chan Envelope, 100),
		stopChan:       make(chan struct{}),
		heartbeatEvery: heartbeat,
		reconnectDelay: reconnect,
		session:        PairingSession{State: StateDisconnected},
		verbose:        opts.Verbose,
	}
}

// SetCommandHandler sets the callback for inbound command rows
func (s *Supervisor) SetCommandHandler(handler func(CommandRecord)) {
	s.onCommand = handler
}

// SetReadyHandler sets the callback fired when a subscription goes live.
// This is where the backlog drain hangs off.
func (s *Supervisor) SetReadyHandler(handler func(pairingID string)) {
	s.onReady = handler
}

// SetTokenRefreshHandler sets the callback for when tokens are refreshed
func (s *Supervisor) SetTokenRefreshHandler(handler func(accessToken, refreshToken string, expiry int64)) {
	s.onTokenRefresh = handler
}

// SetStateChangeHandler sets the callback for session state transitions
func (s *Supervisor) SetStateChangeHandler(handler func(PairingSession)) {
	s.onStateChange = handler
}

// SetTokens replaces the credentials, e.g. after a re-pair rotated them.
func (s *Supervisor) SetTokens(accessToken, refreshToken string, expiry int64) {
	s.mutex.Lock()
	s.authToken = accessToken
	s.refreshToken = refreshToken
	s.tokenExpiry = expiry
	s.authFailed = false
	s.mutex.Unlock()
	s.client.SetAccessToken(accessToken)
}

// Subscribe opens the realtime subscription for pairingID. Subscribing to
// the pairing that is already live is a no-op; a different pairing tears the
// old channel down first and the reconnect cycle brings the new one up.
// Dial failures are logged and retried on the fixed delay, never returned.
func (s *Supervisor) Subscribe(pairingID string) {
	if pairingID == "" {
		log.Printf("⚠️ [RELAY] Subscribe called with empty pairing id, ignoring")
		return
	}

	s.mutex.Lock()
	if s.desired == pairingID && s.conn != nil {
		s.mutex.Unlock()
		if s.verbose {
			log.Printf("[RELAY] Already subscribed to %s", pairingID)
		}
		return
	}
	prev := s.desired
	s.desired = pairingID
	s.authFailed = false
	conn := s.conn
	s.mutex.Unlock()

	if conn != nil {
		log.Printf("🔄 [RELAY] Switching subscription %s → %s", prev, pairingID)
		conn.Close() // the read loop notices and drives the reconnect cycle
		return
	}
	s.spawnConnectLoop(false)
}

// Unsubscribe drops the subscription and forgets the pairing. Safe to call
// when nothing is open.
func (s *Supervisor) Unsubscribe() {
	s.mutex.Lock()
	s.desired = ""
	conn := s.conn
	s.session = PairingSession{State: StateDisconnected}
	s.mutex.Unlock()
	s.notifyState()

	if conn != nil {
		log.Println("👋 [RELAY] Unsubscribed")
		conn.Close()
	}
}

// Keepalive is the scheduler's liveness pass: it restores a wanted but dead
// subscription, recycles one whose heartbeat acks stopped coming back (a
// suspended laptop wakes up into exactly this), and realigns after a pairing
// switch raced an in-flight dial.
func (s *Supervisor) Keepalive() {
	s.mutex.RLock()
	desired := s.desired
	sess := s.session
	dialing := s.dialing
	authFailed := s.authFailed
	conn := s.conn
	stale := s.heartbeatEvery * 3
	s.mutex.RUnlock()

	if desired == "" || authFailed {
		return
	}

	if conn == nil {
		if !dialing {
			log.Printf("⏰ [RELAY] Keepalive: subscription for %s is down, redialing", desired)
			s.spawnConnectLoop(false)
		}
		return
	}

	if sess.PairingID != desired {
		log.Printf("⏰ [RELAY] Keepalive: connected to %s but want %s, recycling", sess.PairingID, desired)
		conn.Close()
		return
	}

	if !sess.LastHeartbeatAt.IsZero() && time.Since(sess.LastHeartbeatAt) > stale {
		log.Printf("⏰ [RELAY] Keepalive: no heartbeat ack for %v, recycling connection", time.Since(sess.LastHeartbeatAt).Round(time.Second))
		conn.Close()
	}
}

// Session returns a copy of the current pairing session
func (s *Supervisor) Session() PairingSession {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.session
}

// IsConnected returns whether a subscription is currently up
func (s *Supervisor) IsConnected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.conn != nil && s.session.State != StateDisconnected
}

// Close shuts the supervisor down for good
func (s *Supervisor) Close() error {
	s.mutex.Lock()
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.desired = ""
	conn := s.conn
	s.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// spawnConnectLoop starts the dial cycle unless one is already running.
// Rapid successive triggers collapse into the one pending attempt.
func (s *Supervisor) spawnConnectLoop(delayFirst bool) {
	s.mutex.Lock()
	if s.dialing {
		s.mutex.Unlock()
		return
	}
	s.dialing = true
	s.mutex.Unlock()
	go s.connectLoop(delayFirst)
}

// connectLoop dials until the desired pairing is live. The delay between
// attempts is fixed rather than exponential: the keepalive schedule bounds
// recovery time anyway, and a host waking from sleep wants its subscription
// back now, not at the top of a backoff ramp.
func (s *Supervisor) connectLoop(delayFirst bool) {
	defer func() {
		s.mutex.Lock()
		s.dialing = false
		s.mutex.Unlock()
	}()

	delay := delayFirst
	for {
		if delay {
			select {
			case <-time.After(s.reconnectDelay):
			case <-s.stopChan:
				return
			}
		}
		delay = true

		s.mutex.RLock()
		pairing := s.desired
		authFailed := s.authFailed
		s.mutex.RUnlock()
		if pairing == "" || authFailed {
			return
		}
		select {
		case <-s.stopChan:
			return
		default:
		}

		err := s.connect(pairing)
		if err == nil {
			return
		}

		if errors.Is(err, ErrAuthenticationFailed) {
			if s.tryRefreshToken() {
				log.Println("🔄 Token refreshed, retrying connection...")
				delay = false
				continue
			}
			s.mutex.Lock()
			s.authFailed = true
			s.mutex.Unlock()
			log.Println("❌ Relay rejected credentials and refresh failed. Run: sheetlink pair <code>")
			return
		}

		log.Printf("❌ [RELAY] Connection failed: %v", err)
		log.Printf("🔄 [RELAY] Retrying in %v...", s.reconnectDelay)
	}
}

// connect establishes the WebSocket connection and sends the join message
func (s *Supervisor) connect(pairing string) error {
	s.setState(pairing, StateConnecting)

	s.mutex.RLock()
	token := s.authToken
	s.mutex.RUnlock()

	endpoint := fmt.Sprintf("%s?apikey=%s&client=%s", s.relayURL, url.QueryEscape(s.apiKey), url.QueryEscape(s.clientID))
	if token != "" {
		endpoint += "&token=" + url.QueryEscape(token)
	}

	if s.verbose {
		log.Printf("[RELAY] Connecting to %s", s.relayURL)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		s.setState(pairing, StateDisconnected)
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		errStr := strings.ToLower(err.Error())
		if strings.Contains(errStr, "401") ||
			strings.Contains(errStr, "403") ||
			strings.Contains(errStr, "unauthorized") ||
			strings.Contains(errStr, "authentication") {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	// Drain stale messages queued for the previous connection
drainLoop:
	for {
		select {
		case <-s.writeChan:
		default:
			break drainLoop
		}
	}

	connDone := make(chan struct{})
	s.mutex.Lock()
	s.conn = conn
	s.connDone = connDone
	s.session.PairingID = pairing
	s.session.State = StateConnected
	s.session.ConnectedAt = time.Now()
	s.session.LastHeartbeatAt = time.Now()
	if s.everConnected {
		s.session.Reconnects++
	}
	s.everConnected = true
	s.mutex.Unlock()
	s.notifyState()

	log.Println("✅ Connected to relay")

	s.writeWg.Add(1)
	go s.readLoop(conn)
	go s.writeLoop(connDone)

	s.enqueue(subscribeEnvelope(pairing, uuid.NewString()))
	return nil
}

// readLoop handles incoming messages until the connection dies
func (s *Supervisor) readLoop(conn *websocket.Conn) {
	defer s.handleDisconnect()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if s.verbose {
				log.Printf("[RELAY] Read error: %v", err)
			}
			return
		}
		s.handleMessage(env)
	}
}

// writeLoop handles outgoing messages, heartbeats and periodic pings
func (s *Supervisor) writeLoop(connDone chan struct{}) {
	defer s.writeWg.Done()

	heartbeatTicker := time.NewTicker(s.heartbeatEvery)
	defer heartbeatTicker.Stop()

	// WebSocket-level pings every 45s so the relay's read deadline doesn't expire
	pingTicker := time.NewTicker(45 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case env := <-s.writeChan:
			conn := s.currentConn()
			if conn == nil {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				if s.verbose {
					log.Printf("[RELAY] Write error: %v", err)
				}
				return
			}

		case <-heartbeatTicker.C:
			s.enqueue(heartbeatEnvelope(uuid.NewString()))

			// Preemptive token refresh: check if token is expiring soon
			s.mutex.RLock()
			expiry := s.tokenExpiry
			refresh := s.refreshToken
			s.mutex.RUnlock()
			if refresh != "" && IsTokenExpiringSoon(expiry, TokenExpiryBuffer) {
				log.Println("🔄 Token expiring soon, refreshing preemptively...")
				s.tryRefreshToken()
			}

		case <-pingTicker.C:
			conn := s.currentConn()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				if s.verbose {
					log.Printf("[RELAY] Ping write error: %v", err)
				}
				return
			}

		case <-connDone:
			return

		case <-s.stopChan:
			return
		}
	}
}

// handleMessage routes one inbound envelope through the dispatch table
func (s *Supervisor) handleMessage(env Envelope) {
	if s.verbose {
		log.Printf("[RELAY] Received: %s", env.Event)
	}

	handler, ok := messageHandlers[env.Event]
	if !ok {
		if s.verbose {
			log.Printf("[RELAY] Unknown event kind: %s", env.Event)
		}
		return
	}
	handler(s, env)
}

func (s *Supervisor) handleSubscribeAck(env Envelope) {
	status, _ := env.Payload["status"].(string)
	if status != "" && status != "ok" {
		message, _ := env.Payload["message"].(string)
		log.Printf("⚠️ [RELAY] Subscription rejected: %s", message)
		if conn := s.currentConn(); conn != nil {
			conn.Close()
		}
		return
	}

	s.mutex.Lock()
	s.session.State = StateReady
	s.session.LastHeartbeatAt = time.Now()
	pairing := s.session.PairingID
	s.mutex.Unlock()
	s.notifyState()

	log.Printf("✅ [RELAY] Subscription live for pairing %s", pairing)

	// Drain off the read loop so slow command execution can't stall reads
	if s.onReady != nil {
		go s.onReady(pairing)
	}
}

func (s *Supervisor) handleSystem(env Envelope) {
	status, _ := env.Payload["status"].(string)
	if status == "ready" {
		s.mutex.Lock()
		s.session.LastHeartbeatAt = time.Now()
		s.mutex.Unlock()
		if s.verbose {
			log.Printf("[RELAY] System ready")
		}
	}
}

func (s *Supervisor) handleChange(env Envelope) {
	op, rec, err := decodeChange(env.Payload)
	if err != nil {
		log.Printf("⚠️ [RELAY] Dropping malformed change event: %v", err)
		return
	}
	if op != "insert" {
		if s.verbose {
			log.Printf("[RELAY] Ignoring %s change", op)
		}
		return
	}

	if s.verbose {
		log.Printf("[RELAY] Command %s pushed (%s)", rec.ID, rec.Type)
	}
	if s.onCommand != nil {
		go s.onCommand(rec)
	}
}

func (s *Supervisor) handleHeartbeatAck(env Envelope) {
	s.mutex.Lock()
	s.session.LastHeartbeatAt = time.Now()
	s.mutex.Unlock()
}

func (s *Supervisor) handleErrorEvent(env Envelope) {
	errMsg, _ := env.Payload["message"].(string)
	log.Printf("❌ [RELAY] Error from relay: %s", errMsg)

	lower := strings.ToLower(errMsg)
	if strings.Contains(lower, "authentication") || strings.Contains(lower, "unauthorized") {
		s.mutex.Lock()
		s.authFailed = true
		s.mutex.Unlock()
	}
}

// handleDisconnect tears down the dead connection and, while a pairing is
// still wanted, schedules the reconnect cycle
func (s *Supervisor) handleDisconnect() {
	s.mutex.Lock()
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.session.State = StateDisconnected
	desired := s.desired
	authFailed := s.authFailed
	s.mutex.Unlock()
	s.notifyState()

	// Wait for writeLoop to exit before redialing to avoid concurrent writes
	s.writeWg.Wait()

	if desired == "" {
		log.Println("🔌 Disconnected from relay")
		return
	}
	select {
	case <-s.stopChan:
		return
	default:
	}
	if authFailed {
		log.Println("❌ Authentication failed. Run: sheetlink pair <code>")
		return
	}

	log.Printf("🔌 [RELAY] Connection lost, reconnecting in %v...", s.reconnectDelay)
	s.spawnConnectLoop(true)
}

// tryRefreshToken attempts to refresh the auth token
func (s *Supervisor) tryRefreshToken() bool {
	s.mutex.RLock()
	refresh := s.refreshToken
	s.mutex.RUnlock()
	if refresh == "" {
		log.Println("❌ No refresh token available")
		return false
	}

	log.Println("🔄 Attempting to refresh token...")
	newToken, err := s.client.RefreshAccessToken(refresh)
	if err != nil {
		log.Printf("❌ Token refresh failed: %v", err)
		return false
	}

	expiry := time.Now().Unix() + int64(newToken.ExpiresIn)
	if exp, err := ParseTokenExpiry(newToken.AccessToken); err == nil {
		expiry = exp
	}

	s.mutex.Lock()
	s.authToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		s.refreshToken = newToken.RefreshToken
	}
	s.tokenExpiry = expiry
	s.mutex.Unlock()

	s.client.SetAccessToken(newToken.AccessToken)
	log.Println("✅ Token refreshed successfully")

	if s.onTokenRefresh != nil {
		s.onTokenRefresh(newToken.AccessToken, newToken.RefreshToken, expiry)
	}
	return true
}

// enqueue queues an envelope for the write loop, dropping it when the queue
// is full so a stalled socket cannot block callers
func (s *Supervisor) enqueue(env Envelope) {
	select {
	case s.writeChan <- env:
	default:
		log.Printf("⚠️ [RELAY] Write queue full, dropping %s", env.Event)
	}
}

func (s *Supervisor) currentConn() *websocket.Conn {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.conn
}

func (s *Supervisor) setState(pairing string, state ConnState) {
	s.mutex.Lock()
	s.session.PairingID = pairing
	s.session.State = state
	s.mutex.Unlock()
	s.notifyState()
}

func (s *Supervisor) notifyState() {
	if s.onStateChange == nil {
		return
	}
	s.onStateChange(s.Session())
}
