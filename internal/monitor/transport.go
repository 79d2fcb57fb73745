package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn — одно WebSocket-соединение. ReadMessage вызывается из одной горутины;
// WriteJSON и Close безопасны для конкурентного вызова.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError — сервер закрыл соединение close-фреймом с кодом.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Text)
}

// MonitorURL выводит адрес потока из базового API URL заменой схемы http(s) -> ws(s).
func MonitorURL(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("monitor: parse api base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("monitor: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/monitor"
	return u.String(), nil
}

// WSDialer — транспорт на gorilla/websocket.
type WSDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func NewWSDialer(handshakeTimeout time.Duration, header http.Header) *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: header,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("monitor: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("monitor: dial %s: %w", url, err)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c   *websocket.Conn
	wmu sync.Mutex // gorilla допускает только одного писателя
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteJSON(v)
}

func (w *wsConn) Close(code int, reason string) error {
	w.wmu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.c.Close()
}
