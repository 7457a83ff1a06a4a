package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"scenehub/internal/async"
	"scenehub/internal/channels"
	"scenehub/internal/logging"
)

const (
	updateDedupCacheSize = 2048
	dismissCallbackData  = "scenehub:dismiss"
)

// Gateway is the Telegram Bot API executor. Outbound calls go through the
// REST API; inbound updates arrive via the getUpdates long-poll loop.
type Gateway struct {
	cfg     Config
	logger  logging.Logger
	client  *http.Client
	handler channels.UpdateHandler
	metrics channels.DeliveryMetrics
	dedup   *lru.Cache[int64, struct{}]
}

// NewGateway constructs a Telegram gateway. The token may be empty; the
// gateway then reports itself unavailable and is dropped at registration.
func NewGateway(cfg Config, logger logging.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 25 * time.Second
	}
	dedup, err := lru.New[int64, struct{}](updateDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("telegram update deduper init: %w", err)
	}
	return &Gateway{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		client: &http.Client{Timeout: cfg.PollTimeout + 10*time.Second},
		dedup:  dedup,
	}, nil
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

// IsAvailable reports whether a bot token is configured.
func (g *Gateway) IsAvailable() bool {
	return g.cfg.Enabled && strings.TrimSpace(g.cfg.Token) != ""
}

// Type returns the registry name.
func (g *Gateway) Type() string { return "telegram" }

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (g *Gateway) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", g.cfg.APIBase, g.cfg.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !decoded.OK {
		return fmt.Errorf("telegram %s: %d %s", method, decoded.ErrorCode, decoded.Description)
	}
	if result != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// SendMessage delivers text to the user's private chat. When Dismissable is
// set, the message carries a single inline button that the bot-handling
// component maps to deletion of the notification.
func (g *Gateway) SendMessage(ctx context.Context, userID int64, text string, opts channels.SendOptions) (channels.MessageRef, error) {
	payload := map[string]any{
		"chat_id": userID,
		"text":    text,
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if opts.ReplyTo != 0 {
		payload["reply_to_message_id"] = opts.ReplyTo
	}
	if opts.Dismissable {
		payload["reply_markup"] = map[string]any{
			"inline_keyboard": [][]map[string]any{{{
				"text":          "✕",
				"callback_data": dismissCallbackData,
			}}},
		}
	}

	if g.metrics != nil {
		g.metrics.RecordAttempt(g.Type())
	}
	var sent sentMessage
	if err := g.call(ctx, "sendMessage", payload, &sent); err != nil {
		if g.metrics != nil {
			g.metrics.RecordFailure(g.Type())
		}
		return channels.MessageRef{}, err
	}
	return channels.MessageRef{
		Channel:   g.Type(),
		ChatID:    sent.Chat.ID,
		MessageID: sent.MessageID,
	}, nil
}

// EditMessage replaces the text of a previously sent message.
func (g *Gateway) EditMessage(ctx context.Context, ref channels.MessageRef, text string) error {
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
	}
	return g.call(ctx, "editMessageText", payload, nil)
}

// DeleteMessage removes a previously sent message.
func (g *Gateway) DeleteMessage(ctx context.Context, ref channels.MessageRef) error {
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	}
	return g.call(ctx, "deleteMessage", payload, nil)
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// StartPolling runs the getUpdates long-poll loop until ctx is cancelled.
// Transport errors are logged and retried with a short pause; they never
// abort the loop.
func (g *Gateway) StartPolling(ctx context.Context) error {
	g.logger.Info("telegram polling loop starting (timeout=%s)", g.cfg.PollTimeout)
	var offset int64

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payload := map[string]any{
			"offset":  offset,
			"timeout": int(g.cfg.PollTimeout.Seconds()),
		}
		var updates []update
		if err := g.call(ctx, "getUpdates", payload, &updates); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Warn("telegram getUpdates failed: %v", err)
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

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if seen, _ := g.dedup.ContainsOrAdd(upd.UpdateID, struct{}{}); seen {
				g.logger.Debug("telegram duplicate update skipped: %d", upd.UpdateID)
				continue
			}
			g.dispatch(ctx, upd)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, upd update) {
	if g.handler == nil {
		return
	}

	var msg channels.InboundMessage
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		msg = channels.InboundMessage{
			Channel:   g.Type(),
			UserID:    upd.Message.From.ID,
			ChatID:    upd.Message.Chat.ID,
			MessageID: upd.Message.MessageID,
			Text:      upd.Message.Text,
		}
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		msg = channels.InboundMessage{
			Channel:   g.Type(),
			UserID:    upd.CallbackQuery.From.ID,
			ChatID:    upd.CallbackQuery.Message.Chat.ID,
			MessageID: upd.CallbackQuery.Message.MessageID,
			Payload:   upd.CallbackQuery.Data,
		}
	default:
		return
	}

	if g.metrics != nil {
		g.metrics.RecordInbound(g.Type())
	}
	handler := g.handler
	async.Go(g.logger, "telegram.update", func() {
		handler(ctx, msg)
	})
}
