package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// serverAPI wraps the server's history endpoints. Every call runs through a
// circuit breaker so a dead server fails fast instead of stalling each sync
// step on its own timeout.
type serverAPI struct {
	base string
	hc   *http.Client
	kp   *identity.KeyPair
	cb   *gobreaker.CircuitBreaker
}

func newServerAPI(base string, hc *http.Client, kp *identity.KeyPair) *serverAPI {
	st := gobreaker.Settings{
		Name:        "server-api",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
	}
	return &serverAPI{
		base: base,
		hc:   hc,
		kp:   kp,
		cb:   gobreaker.NewCircuitBreaker(st),
	}
}

// MessageIDs returns the server's id set for the room's retention window.
func (a *serverAPI) MessageIDs(ctx context.Context, room string, days int) ([]string, error) {
	path := "/api/rooms/" + url.PathEscape(room) + "/message-ids?daysOfHistory=" + strconv.Itoa(days)
	var resp struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.MessageIDs, nil
}

// MessagesByID fetches full messages for the given ids, room-scoped.
func (a *serverAPI) MessagesByID(ctx context.Context, room string, ids []string) ([]wire.ChatMessage, error) {
	path := "/api/rooms/" + url.PathEscape(room) + "/get-messages-by-id"
	req := map[string][]string{"ids": ids}
	var resp struct {
		Messages []wire.ChatMessage `json:"messages"`
	}
	if err := a.do(ctx, http.MethodPost, path, req, &resp, false); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessages uploads locally held messages. The server skips any message
// not verifiably signed by this client; allOk reports whether every message
// was accepted.
func (a *serverAPI) SendMessages(ctx context.Context, room string, msgs []wire.ChatMessage) (bool, error) {
	path := "/api/rooms/" + url.PathEscape(room) + "/send-messages"
	req := map[string][]wire.ChatMessage{"messages": msgs}
	var resp struct {
		AllOk bool `json:"allOk"`
	}
	if err := a.do(ctx, http.MethodPost, path, req, &resp, true); err != nil {
		return false, err
	}
	return resp.AllOk, nil
}

// DeleteMessage asks the server to remove a message this client owns.
func (a *serverAPI) DeleteMessage(ctx context.Context, messageID, roomName string) (bool, error) {
	req := map[string]string{"messageId": messageID, "roomName": roomName}
	var resp struct {
		Ok bool `json:"ok"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/delete-message", req, &resp, true); err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (a *serverAPI) do(ctx context.Context, method, path string, reqBody, respBody any, signed bool) error {
	_, err := a.cb.Execute(func() (any, error) {
		var body []byte
		if reqBody != nil {
			var err error
			body, err = json.Marshal(reqBody)
			if err != nil {
				return nil, fmt.Errorf("client: marshal request: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, a.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if signed {
			if err := a.kp.SignRequest(req, body); err != nil {
				return nil, err
			}
		}

		resp, err := a.hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("client: %s %s: status %d", method, path, resp.StatusCode)
		}
		if respBody != nil {
			if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
				return nil, fmt.Errorf("client: decode response: %w", err)
			}
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("client: server unavailable: %w", err)
	}
	return err
}
