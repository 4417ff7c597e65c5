package link

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ubangi-pay/ubangi_switch/internal/packet"
)

// HTTPLink forwards packets to a peer connector over HTTP using the JSON
// packet rendering. A non-2xx status or connection error is a transport
// failure; a well-formed reject body is a protocol outcome.
type HTTPLink struct {
	url    string
	client *http.Client
}

// NewHTTPLink builds a link posting packets to the peer's ingress URL.
func NewHTTPLink(url string, timeout time.Duration) *HTTPLink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPLink{url: url, client: &http.Client{Timeout: timeout}}
}

// SendPacket implements Link.
func (l *HTTPLink) SendPacket(ctx context.Context, p packet.Prepare) (packet.Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return packet.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return packet.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return packet.Response{}, fmt.Errorf("send packet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return packet.Response{}, fmt.Errorf("send packet: peer returned %d", resp.StatusCode)
	}

	var out packet.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return packet.Response{}, fmt.Errorf("decode peer response: %w", err)
	}
	return out, nil
}
