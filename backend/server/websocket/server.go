package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultSessionCloseTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 64 * 1024
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 30 * time.Second

	defaultOutboundQueueSize = 256

	defaultConnectsPerSecond = 5
	defaultConnectsBurst     = 10
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SessionService interface {
		CreateSession(tx chan<- model.Event) string
		DeleteSession(ctx context.Context, connID string)
		Authenticate(connID, token string) error
		Dispatch(ctx context.Context, connID string, ev model.Event) error
	}

	Config struct {
		Logger            *zerolog.Logger
		SessionService    SessionService
		ListenAddr        string
		ConnectsPerSecond rate.Limit
	}

	Server struct {
		svc SessionService
		ws  *websocket.Upgrader
		*http.Server

		limiter *ipLimiter
		logger  zerolog.Logger

		// sessions outlive the upgrade request, so they hang off this context
		sessionsCtx  context.Context
		stopSessions context.CancelFunc
	}
)

func NewServer(cfg Config) *Server {
	connects := cfg.ConnectsPerSecond
	if connects <= 0 {
		connects = defaultConnectsPerSecond
	}
	sessionsCtx, stopSessions := context.WithCancel(context.Background())
	srv := &Server{
		sessionsCtx:  sessionsCtx,
		stopSessions: stopSessions,
		logger:       cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:          cfg.SessionService,
		limiter:      newIPLimiter(connects, defaultConnectsBurst),
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.connect)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
	srv.stopSessions()
}

func (srv *Server) connect(w http.ResponseWriter, r *http.Request) {
	if !srv.limiter.allow(remoteIP(r)) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	tx := make(chan model.Event, defaultOutboundQueueSize)
	connID := srv.svc.CreateSession(tx)

	logger := srv.logger.With().Str("connID", connID).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("session created")

	if token := requestToken(r); token != "" {
		if err = srv.svc.Authenticate(connID, token); err != nil {
			logger.Warn().Err(err).Msg("handshake token rejected")
		}
	}

	ctx, cancel := context.WithCancel(srv.sessionsCtx)

	go srv.handleWSConn(ctx, cancel, conn, connID, tx, &logger)
}

func (srv *Server) destroySession(connID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSessionCloseTimeout)
	defer cancel()
	srv.svc.DeleteSession(ctx, connID)
	logger.Debug().Msg("session ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	connID string,
	tx <-chan model.Event,
	logger *zerolog.Logger,
) {
	wg := &sync.WaitGroup{}

	go func() {
		// unblock the receiver once either side gives up
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, connID, logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, tx, logger)
		cancel()
	}()

	wg.Wait()
	webSocketCloser(conn, logger)
	srv.destroySession(connID, logger)
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Event,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case ev := <-tx:
			b, wsErr := json.Marshal(&ev)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshall outgoing event")
				continue
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := conn.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			_, wsErr = wsW.Write(b)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing event")
				break SendLoop
			}
			wsErr = wsW.Close()
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	connID string,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else {
					logger.Warn().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}
			// any inbound frame proves the peer is alive
			if wsErr = readDeadLineFunc(defaultPongWait); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket read deadline")
				break RecvLoop
			}

			var ev model.Event
			if wsErr = json.Unmarshal(msg, &ev); wsErr != nil {
				logger.Warn().Err(wsErr).Msg("failed to unmarshall incoming event")
				logger.Trace().Msg(spew.Sdump(msg))
				continue
			}
			if wsErr = srv.svc.Dispatch(ctx, connID, ev); wsErr != nil {
				if errors.Is(wsErr, context.Canceled) {
					break RecvLoop
				}
				logger.Warn().Err(wsErr).Str("type", ev.Type).Msg("incoming event dropped")
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
			logger.Debug().Err(wsErr).Msg("failed to send close message")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}

// requestToken takes the identity token from the Authorization header or,
// for browsers that cannot set headers on websocket requests, the query.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
