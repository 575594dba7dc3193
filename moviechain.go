// Movie Chain over WebSockets
//
// Players sharing a session take turns naming a movie, then someone who
// appeared in it, then another movie that person was in, and so on. Every
// answer is checked against the reference dataset; a wrong, repeated or
// late answer breaks the chain.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First connection to a game becomes moderator
// - Moderator configures players, mode and timer, and starts or ends games
// - Control passes to another client if the moderator stays away
// - Players identified by cookie (playerID)
// - Search-as-you-type scoped to valid next links
// - Errors sent only to the offending client
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/moviechain/chain"
	"github.com/Seednode/moviechain/moviedb"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const submitTimeout = 5 * time.Second

// Messages coming from clients
type ClientMessage struct {
	Type    string   `json:"type"`              // see readPump
	Players []string `json:"players,omitempty"` // setup
	Mode    string   `json:"mode,omitempty"`    // setup
	Timer   int      `json:"timer,omitempty"`   // setup, in seconds
	Query   string   `json:"query,omitempty"`   // query
	Kind    string   `json:"kind,omitempty"`    // submit
	ID      string   `json:"id,omitempty"`      // submit
}

// SimpleMessage is for notifications sent to a single client.
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ModeInfo struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SessionInfoMessage is sent immediately on connect so the client knows
// which controls to show.
type SessionInfoMessage struct {
	Type         string     `json:"type"` // "session_info"
	GameID       string     `json:"game_id"`
	IsModerator  bool       `json:"is_moderator"`
	Modes        []ModeInfo `json:"modes"`
	TimerChoices []int      `json:"timer_choices"`
	MinPlayers   int        `json:"min_players"`
	MaxPlayers   int        `json:"max_players"`
}

// StateMessage carries a full snapshot after every game change.
type StateMessage struct {
	Type  string         `json:"type"`  // "state"
	Event string         `json:"event"` // what caused it
	State chain.Snapshot `json:"state"`
}

type SearchResultsMessage struct {
	Type      string       `json:"type"` // "search_results"
	Query     string       `json:"query"`
	Results   []chain.Link `json:"results"`
	Searching bool         `json:"searching"`
}

type TimerMessage struct {
	Type      string `json:"type"` // "timer"
	Remaining int    `json:"remaining"`
	Running   bool   `json:"running"`
	Warning   bool   `json:"warning"`
}

// DatasetMessage reports the background dataset bootstrap.
type DatasetMessage struct {
	Type   string         `json:"type"` // "dataset"
	Status moviedb.Status `json:"status"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id     string
	engine *chain.Engine
	log    *zap.Logger

	events      <-chan chain.Event
	unsubscribe func()

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	commands chan command
	done     chan struct{}
	stop     sync.Once

	mu sync.RWMutex

	createdAt         time.Time
	lastActive        time.Time
	moderatorPlayerID string
}

func newHub(gameID string, graph chain.Graph, logger *zap.Logger, opts ...chain.Option) *Hub {
	now := time.Now()

	engine := chain.New(graph, append(opts, chain.WithLogger(logger))...)
	events, unsubscribe := engine.Subscribe()

	return &Hub{
		id:          gameID,
		engine:      engine,
		log:         logger,
		events:      events,
		unsubscribe: unsubscribe,
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unreg:       make(chan *Client),
		commands:    make(chan command),
		done:        make(chan struct{}),
		createdAt:   now,
		lastActive:  now,
	}
}

func (h *Hub) run(cfg *Config, store *moviedb.Store) {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// First connection becomes moderator
			if h.moderatorPlayerID == "" {
				h.moderatorPlayerID = c.playerID
			}

			h.clients[c] = true

			h.sendLocked(c, h.sessionInfoLocked(c))
			h.sendLocked(c, DatasetMessage{Type: "dataset", Status: store.Status()})
			h.sendLocked(c, StateMessage{Type: "state", Event: chain.EventState.String(), State: h.engine.Snapshot()})

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			isModerator := c.playerID == h.moderatorPlayerID
			h.mu.Unlock()

			if isModerator {
				go h.scheduleHandover(cfg, c.playerID, cfg.playerTimeout)
			}

		case cmd := <-h.commands:
			h.handleCommand(cfg, cmd)

		case ev, ok := <-h.events:
			if !ok {
				return
			}

			h.mu.Lock()
			h.broadcastLocked(eventMessage(ev))
			h.mu.Unlock()
		}
	}
}

func eventMessage(ev chain.Event) any {
	s := ev.Snapshot

	switch ev.Type {
	case chain.EventTick, chain.EventWarning:
		return TimerMessage{
			Type:      "timer",
			Remaining: s.Remaining,
			Running:   s.TimerRunning,
			Warning:   s.Warning,
		}
	case chain.EventSearch:
		return SearchResultsMessage{
			Type:      "search_results",
			Query:     s.Query,
			Results:   s.Results,
			Searching: s.Searching,
		}
	default:
		return StateMessage{
			Type:  "state",
			Event: ev.Type.String(),
			State: s,
		}
	}
}

func (h *Hub) sessionInfoLocked(c *Client) SessionInfoMessage {
	modes := make([]ModeInfo, 0, len(chain.Modes))
	for _, m := range chain.Modes {
		modes = append(modes, ModeInfo{
			Name:        m.String(),
			Title:       m.Title(),
			Description: m.Description(),
		})
	}

	timers := make([]int, 0, len(chain.TimerChoices))
	for _, d := range chain.TimerChoices {
		timers = append(timers, int(d/time.Second))
	}

	return SessionInfoMessage{
		Type:         "session_info",
		GameID:       h.id,
		IsModerator:  c.playerID == h.moderatorPlayerID,
		Modes:        modes,
		TimerChoices: timers,
		MinPlayers:   chain.MinPlayers,
		MaxPlayers:   chain.MaxPlayers,
	}
}

// sendLocked queues msg for one client, dropping the client if it cannot
// keep up.
func (h *Hub) sendLocked(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

func (h *Hub) broadcastDataset(st moviedb.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastLocked(DatasetMessage{Type: "dataset", Status: st})
}

// scheduleHandover waits for d, and if the moderator has not reconnected,
// hands control to the longest-connected remaining client.
func (h *Hub) scheduleHandover(cfg *Config, playerID string, d time.Duration) {
	select {
	case <-time.After(d):
	case <-h.done:
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.moderatorPlayerID != playerID {
		return
	}

	var next *Client
	for c := range h.clients {
		if c.playerID == playerID {
			return
		}
		if next == nil {
			next = c
		}
	}

	if next == nil {
		h.moderatorPlayerID = ""
		return
	}

	h.moderatorPlayerID = next.playerID
	logf(cfg, "GAMES: Moderator of %s handed over", h.id)

	for c := range h.clients {
		if c.playerID == next.playerID {
			h.sendLocked(c, h.sessionInfoLocked(c))
		}
	}
}

func moderatorOnly(kind string) bool {
	switch kind {
	case "setup", "start", "end_game", "return_to_setup":
		return true
	}

	return false
}

// handleCommand applies one client message to the engine. Failures are
// reported to the sender only; the resulting state reaches everyone
// through the engine's events.
func (h *Hub) handleCommand(cfg *Config, cmd command) {
	c := cmd.client
	msg := cmd.msg

	h.mu.Lock()
	h.lastActive = time.Now()
	isModerator := h.moderatorPlayerID != "" && c.playerID == h.moderatorPlayerID
	h.mu.Unlock()

	if moderatorOnly(msg.Type) && !isModerator {
		h.reply(c, "not_moderator", "Only the moderator can do that.")
		return
	}

	var err error

	switch msg.Type {
	case "setup":
		err = h.setup(msg)
	case "start":
		err = h.engine.StartGame()
		if err == nil {
			logf(cfg, "GAMES: Started %s game in %s", h.engine.Snapshot().Mode, h.id)
		}
	case "query":
		h.engine.SetQuery(msg.Query)
	case "submit":
		err = h.submit(msg)
	case "give_up":
		err = h.engine.GiveUp()
	case "new_chain":
		err = h.engine.StartNewChain()
	case "end_game":
		err = h.engine.EndGame()
	case "return_to_setup":
		err = h.engine.ReturnToSetup()
	}

	if err != nil {
		h.log.Debug("command rejected",
			zap.String("type", msg.Type),
			zap.Error(err),
		)
		h.reply(c, "error", errorText(err))
	}
}

func (h *Hub) setup(msg ClientMessage) error {
	if len(msg.Players) > 0 {
		if err := h.engine.SetPlayerCount(len(msg.Players)); err != nil {
			return err
		}
		for i, name := range msg.Players {
			if err := h.engine.SetPlayerName(i, name); err != nil {
				return err
			}
		}
	}

	if msg.Mode != "" {
		mode, err := chain.ParseMode(msg.Mode)
		if err != nil {
			return err
		}
		if err := h.engine.SetMode(mode); err != nil {
			return err
		}
	}

	if msg.Timer > 0 {
		if err := h.engine.SetTimerDuration(time.Duration(msg.Timer) * time.Second); err != nil {
			return err
		}
	}

	return nil
}

func (h *Hub) submit(msg ClientMessage) error {
	var kind chain.Kind
	if err := kind.UnmarshalText([]byte(msg.Kind)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	link, err := h.engine.Resolve(ctx, kind, msg.ID)
	if err != nil {
		return err
	}

	return h.engine.Submit(ctx, link)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, chain.ErrNotReady):
		return "The movie database is still loading. Try again in a moment."
	case errors.Is(err, chain.ErrTurnOver):
		return "Too late, that turn is already over."
	case errors.Is(err, chain.ErrWrongPhase):
		return "That can't be done right now."
	case errors.Is(err, moviedb.ErrNotFound):
		return "That movie or person isn't in the database."
	case errors.Is(err, chain.ErrPlayerCount), errors.Is(err, chain.ErrInvalidSetting):
		return err.Error()
	default:
		return "Something went wrong. Please try again."
	}
}

func (h *Hub) reply(c *Client, kind, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sendLocked(c, SimpleMessage{Type: kind, Message: text})
}

// close stops the engine and disconnects all clients of this hub (used by
// the reaper and on shutdown).
func (h *Hub) close() {
	h.stop.Do(func() {
		close(h.done)
		h.unsubscribe()
		h.engine.Close()

		h.mu.Lock()
		defer h.mu.Unlock()

		for c := range h.clients {
			close(c.send)
			_ = c.conn.Close()
			delete(h.clients, c)
		}
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "moviechain_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session. All hubs share one dataset store.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration

	cfg   *Config
	store *moviedb.Store
	log   *zap.Logger
}

func newGameManager(ctx context.Context, cfg *Config, store *moviedb.Store, logger *zap.Logger) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
		cfg:         cfg,
		store:       store,
		log:         logger,
	}

	go gm.reaperLoop(ctx)

	return gm
}

func (gm *GameManager) getHub(gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, gm.store, gm.log.With(zap.String("game", gameID)), gm.cfg.engineOptions()...)
	gm.hubs[gameID] = hub
	go hub.run(gm.cfg, gm.store)

	return hub
}

func (gm *GameManager) count() int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	return len(gm.hubs)
}

func (gm *GameManager) broadcastDataset(st moviedb.Status) {
	gm.mu.Lock()
	hubs := make([]*Hub, 0, len(gm.hubs))
	for _, hub := range gm.hubs {
		hubs = append(hubs, hub)
	}
	gm.mu.Unlock()

	for _, hub := range hubs {
		hub.broadcastDataset(st)
	}
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout, and closes every hub once ctx is done.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	var tick <-chan time.Time
	if gm.idleTimeout > 0 {
		ticker := time.NewTicker(gm.idleTimeout / 2)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			gm.closeAll()
			return
		case <-tick:
			gm.reap(time.Now().Add(-gm.idleTimeout))
		}
	}
}

func (gm *GameManager) reap(cutoff time.Time) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			logf(gm.cfg, "GAMES: Reaped idle game %s", id)
			go hub.close()
		}
	}
}

func (gm *GameManager) closeAll() {
	gm.mu.Lock()
	hubs := gm.hubs
	gm.hubs = make(map[string]*Hub)
	gm.mu.Unlock()

	for _, hub := range hubs {
		hub.close()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 32),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "setup", "start", "query", "submit", "give_up", "new_chain", "end_game", "return_to_setup":
			select {
			case h.commands <- command{client: c, msg: msg}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := cfg.scheme()
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveGamePage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/moviechain/index.html")
		if err != nil {
			http.Error(w, "missing game client", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(data)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerMovieChain sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerMovieChain(cfg *Config, path string, mux *httprouter.Router, gm *GameManager) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", serveGamePage(cfg))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler(cfg))
}
