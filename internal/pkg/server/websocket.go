package server

import (
	"net/http"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/notify"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	wsSendBufferSize = 64
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Events streams registry changes as JSON over a websocket. The query
// parameters appliance, kind and key narrow the feed like a notify.Filter.
// Changes are dropped for clients that cannot keep up.
func (s *server) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := notify.Filter{
		ApplianceID: q.Get("appliance"),
		Kinds: lo.Map(q["kind"], func(k string, _ int) model.ChangeKind {
			return model.ChangeKind(k)
		}),
		Keys: q["key"],
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan model.Change, wsSendBufferSize)
	handle := s.client.SubscribeFilter(filter, func(c model.Change) {
		select {
		case send <- c:
		default:
			s.logger.Warn("websocket client too slow, change dropped", zap.String("appliance", c.ApplianceID))
		}
	})
	defer s.client.Unsubscribe(handle)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case c := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
