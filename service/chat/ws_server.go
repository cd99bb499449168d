package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"PPChat/logger"
	"PPChat/service/auth"
	"PPChat/service/metrics"
	"PPChat/tools/errs"
	"PPChat/tools/ids"
	"PPChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const unknownEvent = "unknown"

// HandleWS 握手前完成认证；失败直接 401，不升级
func (s *Server) HandleWS(c *gin.Context) {
	ident, err := s.gate.Resolve(c.Request.Context(), auth.TokenFromRequest(c.Request))
	if err != nil {
		if auth.IsUnauthenticated(err) {
			logger.Info("[WS] reject handshake", zap.String("remote", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errs.Message(err)})
			return
		}
		logger.Error("[WS] resolve identity", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errs.ErrInternalServer.Msg})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 握手失败时 upgrader 已写回响应
		logger.Info("[WS] upgrade failed", zap.String("user", ident.UserID), zap.Error(err))
		return
	}
	s.serve(ws, ident)
}

func (s *Server) serve(ws *websocket.Conn, ident *auth.Identity) {
	connID := ids.GenerateString()
	client := NewClient(connID, ident.UserID, ws, s.conf.SendQueueSize)
	sess := NewSession(connID, ident.UserID, ident.Username, client)
	s.reg.Register(sess)
	metrics.Connections.Inc()

	pumpDone := make(chan struct{})
	safe.Go("ws-write", func() {
		defer close(pumpDone)
		client.writePump(pumpConf{pingInterval: s.conf.PingInterval, writeWait: s.conf.WriteWait})
	})

	defer func() {
		_, last := s.reg.Deregister(connID)
		client.Close()
		metrics.Connections.Dec()
		if last {
			ctx, cancel := context.WithTimeout(context.Background(), s.conf.TxTimeout)
			s.presence.Sync(ctx, ident.UserID, "")
			cancel()
		}
		<-pumpDone
		logger.Info("[WS] closed", zap.String("conn", connID), zap.String("user", ident.UserID))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.TxTimeout)
	s.joinMemberRooms(ctx, sess)
	s.presence.Sync(ctx, ident.UserID, connID)
	cancel()
	logger.Info("[WS] connected", zap.String("conn", connID), zap.String("user", ident.UserID),
		zap.Int("rooms", len(s.reg.RoomsFor(connID))))

	s.readLoop(ws, sess)
}

// joinMemberRooms 连上即加入所有所属频道
func (s *Server) joinMemberRooms(ctx context.Context, sess *Session) {
	channels, err := s.store.FindChannelsByMember(ctx, sess.UserID)
	if err != nil {
		logger.Error("[WS] load member channels", zap.String("user", sess.UserID), zap.Error(err))
		return
	}
	for _, ch := range channels {
		s.reg.JoinRoom(sess.ConnID, ch.ID)
	}
}

// readLoop 只读；任意一侧出错即退出，由 serve 收尾
func (s *Server) readLoop(ws *websocket.Conn, sess *Session) {
	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})
	limiter := rate.NewLimiter(rate.Limit(s.conf.RateRPS), s.conf.RateBurst)

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			logReadErr(sess, err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.handleFrame(sess, data, limiter)
	}
}

func logReadErr(sess *Session, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("[WS] peer closed", zap.String("conn", sess.ConnID), zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info("[WS] read timeout", zap.String("conn", sess.ConnID), zap.Error(err))
	default:
		logger.Debug("[WS] read err", zap.String("conn", sess.ConnID), zap.Error(err))
	}
}

// handleFrame 一帧一个事务；失败只回给发送者
func (s *Server) handleFrame(sess *Session, data []byte, limiter *rate.Limiter) {
	event := unknownEvent
	err := func() error {
		if !limiter.Allow() {
			return errs.ErrRateLimit.WrapMsg("frame rejected", "conn", sess.ConnID)
		}
		f, err := ParseFrame(data)
		if err != nil {
			return err
		}
		if s.disp.Has(f.Event) {
			event = f.Event
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.TxTimeout)
		defer cancel()
		return safe.Run(func() error { return s.disp.Dispatch(ctx, sess, f) })
	}()
	metrics.Events.WithLabelValues(event).Inc()
	if err != nil {
		s.reject(sess, event, err)
	}
}

func (s *Server) reject(sess *Session, event string, err error) {
	code := errs.Code(err)
	metrics.ObserveError(event, code)
	fields := []zap.Field{
		zap.String("event", event),
		zap.String("conn", sess.ConnID),
		zap.String("user", sess.UserID),
		zap.Int("code", code),
		zap.Error(err),
	}
	msg := errs.Message(err)
	switch code {
	case errs.ServerInternalError:
		msg = errs.ErrInternalServer.Msg
		logger.Error("[WS] transaction failed", fields...)
	case errs.PersistenceError:
		logger.Error("[WS] transaction failed", fields...)
	default:
		logger.Info("[WS] transaction rejected", fields...)
	}
	s.bc.PublishToConnection(sess.ConnID, EventError, ErrorData{Message: msg})
}
