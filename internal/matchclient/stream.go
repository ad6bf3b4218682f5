package matchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/pkg/protocol"
)

// Stream is one websocket attachment to a session. Next and Send may be used
// from different goroutines; neither is safe for concurrent use with itself.
type Stream struct {
	conn *websocket.Conn
}

// Dial opens the stream at url, as built by Client.StreamURL.
func Dial(ctx context.Context, url string, header http.Header) (*Stream, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return &Stream{conn: conn}, nil
}

// Next blocks for the next server message.
func (s *Stream) Next(ctx context.Context) (protocol.ServerMessage, error) {
	var raw json.RawMessage
	if err := wsjson.Read(ctx, s.conn, &raw); err != nil {
		return nil, err
	}
	return protocol.DecodeServer(raw)
}

func (s *Stream) Send(ctx context.Context, msg protocol.ClientMessage) error {
	frame, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

// SendRaw writes frame unchanged, for probing server validation.
func (s *Stream) SendRaw(ctx context.Context, frame []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
