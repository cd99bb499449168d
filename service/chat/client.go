package chat

import (
	"sync"
	"time"

	"PPChat/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client 一条连接的出站侧：有界发送队列 + 单写协程
// 同一用户多端时每条连接各有一个 Client
type Client struct {
	ConnID string
	UserID string

	ws        *websocket.Conn
	send      chan []byte // 只由 writePump 消费，从不 close
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue 非阻塞；队列满或已关闭返回 false
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close 幂等；writePump 收到后发 close 帧并关闭底层连接
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Pending 队列中未写出的帧（测试用）
func (c *Client) Pending() [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-c.send:
			out = append(out, b)
		default:
			return out
		}
	}
}

type pumpConf struct {
	pingInterval time.Duration
	writeWait    time.Duration
}

// writePump 每帧一条 text message；定时 ping 保活
func (c *Client) writePump(conf pumpConf) {
	ticker := time.NewTicker(conf.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(conf.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("ws write failed", zap.String("conn", c.ConnID), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(conf.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("ws ping failed", zap.String("conn", c.ConnID), zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			c.flush(conf.writeWait)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(conf.writeWait))
			return
		}
	}
}

// flush 关闭前把已排队的帧尽量写出
func (c *Client) flush(writeWait time.Duration) {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
