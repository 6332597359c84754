// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"
	"mall/internal/service/order/domain"
)

const (
	serviceName = "push-gateway"
	servicePort = 8088

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var (
	nodeID   = serviceName + "-" + uuid.New().String()[:8]
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

type pushMessage struct {
	userID  int64
	payload []byte
}

// Hub 维护所有活跃的连接，并负责按用户推送订单事件。
// 连接表只在 run 一个 goroutine 内读写：注册、注销和推送
// 全部经 channel 串行化，send 的写入和关闭不会竞争。
type Hub struct {
	clients    map[int64]*Client // UserID -> 连接
	register   chan *Client
	unregister chan *Client
	deliver    chan pushMessage
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[int64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan pushMessage, 256),
	}
}

func (h *Hub) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case client := <-h.register:
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			logger.Logger.Info().Int64("user_id", client.userID).Str("node", nodeID).Msg("client registered")
		case client := <-h.unregister:
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			logger.Logger.Info().Int64("user_id", client.userID).Msg("client unregistered")
		case msg := <-h.deliver:
			client, ok := h.clients[msg.userID]
			if !ok {
				continue
			}
			select {
			case client.send <- msg.payload:
			default:
				// 发送缓冲满说明客户端跟不上，丢弃这一条
				logger.Logger.Warn().Int64("user_id", msg.userID).Msg("client send buffer full, dropping event")
			}
		}
	}
}

// push 向指定用户推送消息。用户不在本节点或投递队列已满时丢弃。
func (h *Hub) push(userID int64, payload []byte) {
	select {
	case h.deliver <- pushMessage{userID: userID, payload: payload}:
	default:
		logger.Logger.Warn().Int64("user_id", userID).Msg("push queue full, dropping event")
	}
}

// Client 是一个 WebSocket 连接的代表。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 客户端只发心跳，读到任何错误即断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), userID: userID}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// consumeOrderEvents 消费订单事件并推送给在线用户。
// 推送是尽力而为的，未送达不重试，位点照常推进。
func consumeOrderEvents(ctx context.Context, hub *Hub) error {
	cfg := bootstrap.GetCurrentConfig()
	// 每个网关节点一个独立消费组，事件对所有节点广播
	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderEventsTopic, nodeID)
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch order event")
			continue
		}

		var event domain.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to unmarshal order event, skipping")
		} else {
			hub.push(event.UserID, msg.Value)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit offset")
		}
	}
}

func main() {
	hub := newHub()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
		BackgroundTasks: []func(ctx context.Context) error{
			hub.run,
			func(ctx context.Context) error {
				return consumeOrderEvents(ctx, hub)
			},
		},
	})
}
