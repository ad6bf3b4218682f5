package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/pkg/protocol"
)

// StreamOptions tunes the websocket transport.
type StreamOptions struct {
	// OriginPatterns is the origin allow-list; empty allows same-origin only.
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// ServeStream upgrades r and runs the connection for code until either side
// closes. role must already be resolved by the caller via Session.Bind.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request, code string, role match.Role, id match.Identity, opts StreamOptions) {
	opts = opts.withDefaults()
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  opts.OriginPatterns,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.log.Warn("hub_accept_error", zap.String("code", code), zap.Error(err))
		return
	}
	ws.SetReadLimit(protocol.MaxFrameBytes)

	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = h.opts.SendBuffer
	}
	c := NewConn(code, role, id, buffer)
	if err := h.Attach(c); err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, string(match.CodeOf(err)))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, ws, c, opts)
	}()

	h.readLoop(ctx, ws, c)
	h.Detach(c)
	cancel()
	<-writerDone
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, c *Conn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				h.log.Debug("hub_read_error", zap.String("code", c.Code), zap.String("conn", c.ID), zap.Error(err))
			}
			c.Close("read closed")
			return
		}
		if typ != websocket.MessageText {
			h.RejectDecode(c, errors.New("binary frames are not supported"))
			continue
		}
		msg, err := protocol.DecodeClient(data)
		if err != nil {
			h.RejectDecode(c, err)
			continue
		}
		h.Dispatch(ctx, c, msg)
	}
}

func (h *Hub) writeLoop(ctx context.Context, ws *websocket.Conn, c *Conn, opts StreamOptions) {
	ping := time.NewTicker(opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case frame := <-c.Send():
			wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.Close("write failed")
				_ = ws.CloseNow()
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				c.Close("ping failed")
				_ = ws.CloseNow()
				return
			}
		case <-c.Done():
			h.drain(ctx, ws, c, opts)
			status := websocket.StatusNormalClosure
			if c.Reason() == reasonOverflow {
				status = websocket.StatusPolicyViolation
			}
			_ = ws.Close(status, c.Reason())
			return
		case <-ctx.Done():
			_ = ws.CloseNow()
			return
		}
	}
}

// drain flushes frames already queued when the close was decided, so a final
// game_over is not lost. Overflowed connections are dropped without flushing.
func (h *Hub) drain(ctx context.Context, ws *websocket.Conn, c *Conn, opts StreamOptions) {
	if c.Reason() == reasonOverflow {
		return
	}
	for {
		select {
		case frame := <-c.Send():
			wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		default:
			return
		}
	}
}
