package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscribeRequest struct {
	Method string `json:"method"`
	Params struct {
		OrderID string `json:"order_id"`
	} `json:"params"`
}

type subscribeAck struct {
	Method string `json:"method"`
	Params struct {
		OrderID string `json:"order_id"`
	} `json:"params"`
}

// Handler streams broker events over a websocket. The order_id query
// parameter or a {"method":"subscribe"} message narrows the stream to a
// single order.
func Handler(b *Broker, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := b.Subscribe(r.URL.Query().Get("order_id"))
		defer sub.Close()

		acks := make(chan string, 4)
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadLimit(4096)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				var req subscribeRequest
				if err := conn.ReadJSON(&req); err != nil {
					return
				}
				switch req.Method {
				case "subscribe":
					sub.SetFilter(req.Params.OrderID)
				case "unsubscribe":
					sub.SetFilter("")
					req.Params.OrderID = ""
				default:
					continue
				}
				select {
				case acks <- req.Params.OrderID:
				default:
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case orderID := <-acks:
				ack := subscribeAck{Method: "subscribed"}
				ack.Params.OrderID = orderID
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ack); err != nil {
					return
				}
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
