package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"SliceFM/core/bridge"
	"SliceFM/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	bridgeWriteWait   = 5 * time.Second
	bridgeCallTimeout = 30 * time.Second
)

// BridgeHandler 通过 websocket 提供支付网桥协议，请求并发处理，应答携带请求的 reqId
type BridgeHandler struct {
	bridge bridge.Bridge
}

func NewBridgeHandler(b bridge.Bridge) *BridgeHandler {
	return &BridgeHandler{bridge: b}
}

func (h *BridgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()
	logger.Info("bridge client connected", logger.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	for {
		var req bridge.Message
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("bridge connection closed", logger.ErrorField(err))
			}
			break
		}
		wg.Add(1)
		go func(req bridge.Message) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, bridgeCallTimeout)
			defer cancel()
			reply := bridge.Dispatch(callCtx, h.bridge, &req)

			writeMu.Lock()
			defer writeMu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := conn.WriteJSON(reply); err != nil {
				logger.Warn("bridge reply failed",
					logger.String("reqId", req.ReqID),
					logger.ErrorField(err))
			}
		}(req)
	}
	cancel()
	wg.Wait()
}
