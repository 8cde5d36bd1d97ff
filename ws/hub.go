package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sourabh10122002/talkie-server/auth"
	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/globals"
	"github.com/Sourabh10122002/talkie-server/membership"
	"github.com/Sourabh10122002/talkie-server/messaging"
	"github.com/Sourabh10122002/talkie-server/metrics"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/presence"
	"github.com/Sourabh10122002/talkie-server/room"
	"github.com/Sourabh10122002/talkie-server/signaling"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

const (
	pongWait   = 2 * time.Minute
	pingPeriod = time.Minute
	writeWait  = 10 * time.Second
)

// Hub accepts websocket connections and wires them to the gateway components. There is a single hub per process,
// rooms are tracked by the room registry.
type Hub struct {
	cfg config.GatewayConfig

	gatekeeper *auth.Gatekeeper
	rooms      *room.Registry
	presence   *presence.Registry
	authorizer *membership.Authorizer
	pipeline   *messaging.Pipeline
	engine     *messaging.Engine
	relay      *signaling.Relay
	metrics    *metrics.Metrics
	logger     hclog.Logger

	upgrader  websocket.Upgrader
	sweepSpec string
	cron      *cron.Cron

	// registered clients
	clients map[*Client]struct{}
	wg      sync.WaitGroup
	closed  bool

	// mutex for manipulating the clients
	sync.RWMutex
}

func NewHub(cfg *config.Config, store persistence.Store, resolver auth.IdentityResolver, m *metrics.Metrics, logger hclog.Logger) (*Hub, error) {
	if logger == nil {
		logger = globals.AppLogger.Named("hub")
	}
	rooms := room.NewRegistry()
	authorizer := membership.NewAuthorizer(store, logger.Named("membership"))
	pipeline, err := messaging.NewPipeline(store, authorizer, rooms, messaging.Options{
		MaxContentLength: cfg.GatewayConfig.MaxContentLength,
		DedupCacheSize:   cfg.GatewayConfig.DedupCacheSize,
		PageSize:         cfg.HistoryConfig.PageSize,
		MaxPageSize:      cfg.HistoryConfig.MaxPageSize,
		Logger:           logger.Named("pipeline"),
		Metrics:          m,
	})
	if err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:        cfg.GatewayConfig,
		gatekeeper: auth.NewGatekeeper(resolver, logger.Named("auth")),
		rooms:      rooms,
		presence:   presence.NewRegistry(rooms, logger.Named("presence")),
		authorizer: authorizer,
		pipeline:   pipeline,
		engine:     messaging.NewEngine(store, authorizer, rooms, logger.Named("receipts"), m),
		relay:      signaling.NewRelay(rooms, logger.Named("signaling"), m),
		metrics:    m,
		logger:     logger,
		sweepSpec:  cfg.MaintenanceConfig.SweepSpec,
		clients:    make(map[*Client]struct{}),
	}
	h.presence.OnChange(m.SetOnline)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

// checkOrigin allows every origin if none are configured. Requests without an Origin header are not from a browser
// and always allowed.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Router returns the HTTP handler of the gateway.
func (h *Hub) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/presence", h.servePresence).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (h *Hub) servePresence(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.presence.Snapshot()); err != nil {
		h.logger.Error("could not encode presence", "error", err)
	}
}

// Start runs the periodic maintenance job.
func (h *Hub) Start() error {
	h.cron = cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if h.sweepSpec != "" {
		if _, err := h.cron.AddFunc(h.sweepSpec, h.maintain); err != nil {
			return err
		}
	}
	h.cron.Start()
	return nil
}

// maintain republishes presence so clients that dropped a snapshot converge, and refreshes the gauges.
func (h *Hub) maintain() {
	h.presence.Resync()
	h.metrics.SetRooms(h.rooms.NoRooms())
	h.metrics.SetOnline(h.presence.NoOnline())
	h.logger.Trace("maintenance done", "connections", h.NoClients(), "rooms", h.rooms.NoRooms())
}

// Stop stops the maintenance job, closes all connections and waits for their cleanup or until ctx is done.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
	h.Lock()
	h.closed = true
	for c := range h.clients {
		c.Close()
	}
	h.Unlock()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) bool {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

// unregister releases everything the connection held. It runs exactly once per registered client, however the
// connection ended.
func (h *Hub) unregister(c *Client) {
	left := h.rooms.Remove(c)
	h.presence.Unregister(c.identity, c.id)
	h.Lock()
	delete(h.clients, c)
	h.Unlock()
	h.metrics.ConnectionClosed()
	h.logger.Debug("connection closed", "connection", c.id, "identity", c.identity.Id, "rooms", left)
	h.wg.Done()
}

// credentialFromRequest looks for a bearer token in the Authorization header and the token query parameter.
func credentialFromRequest(r *http.Request) auth.Credential {
	cred := auth.Credential{Provider: r.URL.Query().Get("provider")}
	if header := r.Header.Get("Authorization"); len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		cred.Token = strings.TrimSpace(header[7:])
	}
	if cred.Token == "" {
		cred.Token = r.URL.Query().Get("token")
	}
	return cred
}

// ServeWS upgrades the request and runs the connection until it ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	cred := credentialFromRequest(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("could not upgrade connection", "error", err)
		return
	}
	if h.cfg.MaxFrameSize > 0 {
		conn.SetReadLimit(h.cfg.MaxFrameSize)
	}
	identity, err := h.handshake(r.Context(), conn, cred)
	if err != nil {
		h.metrics.HandshakeFailed()
		h.reject(conn, err)
		return
	}

	c := NewClient(h, conn, identity, h.cfg.SendBuffer)
	if !h.register(c) {
		h.reject(conn, types.NewAuthenticationError(nil, "server is shutting down"))
		return
	}
	h.metrics.ConnectionOpened()
	defer h.unregister(c)

	c.sendEvent(types.EventReady, types.ReadyPayload{ConnectionId: c.id, Identity: identity.Public()})
	h.rooms.Add(c)
	if !h.presence.Register(identity, c.id) {
		// the identity was online already, nobody else needs an update
		c.sendEvent(types.EventPresenceSnapshot, h.presence.Snapshot())
	}
	h.logger.Debug("connection ready", "connection", c.id, "identity", identity.Id)

	go c.WriteLoop()
	c.ReadLoop()
}

// handshake authenticates the connection. Without a credential on the upgrade request the first frame must be a
// handshake event that arrives within the handshake timeout.
func (h *Hub) handshake(ctx context.Context, conn *websocket.Conn, cred auth.Credential) (*types.Identity, error) {
	timeout := h.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if cred.Token == "" {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, types.NewAuthenticationError(err, "no handshake received")
		}
		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil || message.Event != types.EventHandshake {
			return nil, types.NewAuthenticationError(err, "first event must be %s", types.EventHandshake)
		}
		payload := types.HandshakePayload{}
		if err := decodePayload(message.Data, &payload, "token"); err != nil {
			return nil, types.NewAuthenticationError(err, "malformed handshake")
		}
		cred = auth.Credential{Token: payload.Token, Provider: payload.Provider}
		_ = conn.SetReadDeadline(time.Time{})
	}
	return h.gatekeeper.Authenticate(ctx, cred)
}

// reject reports err to the peer and closes the connection with a policy violation.
func (h *Hub) reject(conn *websocket.Conn, err error) {
	defer conn.Close()
	if frame, encErr := types.EncodeFrame(types.EventError, types.ToPayload(err)); encErr == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(types.KindOf(err))),
		time.Now().Add(writeWait))
}
