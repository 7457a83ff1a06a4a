package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scenehub/internal/async"
	"scenehub/internal/channels"
	"scenehub/internal/logging"
)

const dismissPayload = `{"command":"dismiss"}`

// Gateway is the VK community-bot executor. Outbound calls use the VK API;
// inbound events arrive via the Bots Long Poll loop.
type Gateway struct {
	cfg     Config
	logger  logging.Logger
	client  *http.Client
	handler channels.UpdateHandler
	metrics channels.DeliveryMetrics
}

// NewGateway constructs a VK gateway.
func NewGateway(cfg Config, logger logging.Logger) *Gateway {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = defaultAPIBase
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 25 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		client: &http.Client{Timeout: cfg.PollWait + 10*time.Second},
	}
}

// SetHandler wires the inbound update handler. Must be called before
// StartPolling.
func (g *Gateway) SetHandler(h channels.UpdateHandler) {
	g.handler = h
}

// SetMetrics wires delivery counters. Optional.
func (g *Gateway) SetMetrics(m channels.DeliveryMetrics) {
	g.metrics = m
}

// IsAvailable reports whether a community token and group ID are configured.
func (g *Gateway) IsAvailable() bool {
	return g.cfg.Enabled && strings.TrimSpace(g.cfg.Token) != "" && g.cfg.GroupID != 0
}

// Type returns the registry name.
func (g *Gateway) Type() string { return "vk" }

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (g *Gateway) call(ctx context.Context, method string, params url.Values, result any) error {
	params.Set("access_token", g.cfg.Token)
	params.Set("v", g.cfg.APIVersion)

	endpoint := fmt.Sprintf("%s/method/%s", g.cfg.APIBase, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("vk %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("vk %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded struct {
		Error    *apiError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("vk %s: decode: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("vk %s: %d %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if result != nil && len(decoded.Response) > 0 {
		if err := json.Unmarshal(decoded.Response, result); err != nil {
			return fmt.Errorf("vk %s: decode response: %w", method, err)
		}
	}
	return nil
}

// SendMessage delivers text to the user. When Dismissable is set, the
// message carries a single inline callback button mapped to deletion.
func (g *Gateway) SendMessage(ctx context.Context, userID int64, text string, opts channels.SendOptions) (channels.MessageRef, error) {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("random_id", strconv.FormatInt(rand.Int63(), 10))
	params.Set("message", text)
	if opts.ReplyTo != 0 {
		params.Set("reply_to", strconv.FormatInt(opts.ReplyTo, 10))
	}
	if opts.Dismissable {
		keyboard := map[string]any{
			"inline": true,
			"buttons": [][]map[string]any{{{
				"action": map[string]any{
					"type":    "callback",
					"label":   "✕",
					"payload": dismissPayload,
				},
			}}},
		}
		encoded, err := json.Marshal(keyboard)
		if err != nil {
			return channels.MessageRef{}, fmt.Errorf("vk keyboard encode: %w", err)
		}
		params.Set("keyboard", string(encoded))
	}

	if g.metrics != nil {
		g.metrics.RecordAttempt(g.Type())
	}
	var messageID int64
	if err := g.call(ctx, "messages.send", params, &messageID); err != nil {
		if g.metrics != nil {
			g.metrics.RecordFailure(g.Type())
		}
		return channels.MessageRef{}, err
	}
	return channels.MessageRef{
		Channel:   g.Type(),
		ChatID:    userID,
		MessageID: messageID,
	}, nil
}

// EditMessage replaces the text of a previously sent message.
func (g *Gateway) EditMessage(ctx context.Context, ref channels.MessageRef, text string) error {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(ref.ChatID, 10))
	params.Set("message_id", strconv.FormatInt(ref.MessageID, 10))
	params.Set("message", text)
	return g.call(ctx, "messages.edit", params, nil)
}

// DeleteMessage removes a previously sent message for both sides.
func (g *Gateway) DeleteMessage(ctx context.Context, ref channels.MessageRef) error {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(ref.ChatID, 10))
	params.Set("message_ids", strconv.FormatInt(ref.MessageID, 10))
	params.Set("delete_for_all", "1")
	return g.call(ctx, "messages.delete", params, nil)
}

type longPollServer struct {
	Server string `json:"server"`
	Key    string `json:"key"`
	TS     string `json:"ts"`
}

type longPollEvent struct {
	Type   string `json:"type"`
	Object struct {
		Message *struct {
			ID      int64  `json:"id"`
			FromID  int64  `json:"from_id"`
			PeerID  int64  `json:"peer_id"`
			Text    string `json:"text"`
			Payload string `json:"payload"`
		} `json:"message"`
	} `json:"object"`
}

// StartPolling runs the Bots Long Poll loop until ctx is cancelled. Key
// expiry (failed=2/3) refreshes the server; transport errors are logged and
// retried.
func (g *Gateway) StartPolling(ctx context.Context) error {
	g.logger.Info("vk polling loop starting (group_id=%d)", g.cfg.GroupID)

	server, err := g.getLongPollServer(ctx)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ts, events, failed, err := g.check(ctx, server)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Warn("vk long poll failed: %v", err)
			if g.metrics != nil {
				g.metrics.RecordPollRestart(g.Type())
			}
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		switch failed {
		case 0:
			server.TS = ts
		case 1:
			// History is outdated; resume from the returned ts.
			server.TS = ts
		default:
			// Key or server expired.
			refreshed, err := g.getLongPollServer(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.Warn("vk long poll server refresh failed: %v", err)
				select {
				case <-time.After(3 * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			server = refreshed
			continue
		}

		for _, ev := range events {
			g.dispatch(ctx, ev)
		}
	}
}

func (g *Gateway) getLongPollServer(ctx context.Context) (longPollServer, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(g.cfg.GroupID, 10))
	var server longPollServer
	if err := g.call(ctx, "groups.getLongPollServer", params, &server); err != nil {
		return longPollServer{}, err
	}
	return server, nil
}

func (g *Gateway) check(ctx context.Context, server longPollServer) (ts string, events []longPollEvent, failed int, err error) {
	checkURL := fmt.Sprintf("%s?act=a_check&key=%s&ts=%s&wait=%d",
		server.Server, url.QueryEscape(server.Key), url.QueryEscape(server.TS),
		int(g.cfg.PollWait.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return "", nil, 0, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded struct {
		TS      string          `json:"ts"`
		Failed  int             `json:"failed"`
		Updates []longPollEvent `json:"updates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", nil, 0, fmt.Errorf("vk long poll decode: %w", err)
	}
	return decoded.TS, decoded.Updates, decoded.Failed, nil
}

func (g *Gateway) dispatch(ctx context.Context, ev longPollEvent) {
	if g.handler == nil || ev.Type != "message_new" || ev.Object.Message == nil {
		return
	}
	m := ev.Object.Message
	msg := channels.InboundMessage{
		Channel:   g.Type(),
		UserID:    m.FromID,
		ChatID:    m.PeerID,
		MessageID: m.ID,
		Text:      m.Text,
		Payload:   m.Payload,
	}
	if g.metrics != nil {
		g.metrics.RecordInbound(g.Type())
	}
	handler := g.handler
	async.Go(g.logger, "vk.update", func() {
		handler(ctx, msg)
	})
}
