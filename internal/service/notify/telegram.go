package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

const telegramBaseURL = "https://api.telegram.org"

// Telegram sends through the Bot API. The bot may message at most ~30
// chats per second; the limiter keeps us under that.
type Telegram struct {
	baseURL      string
	token        string
	operatorChat string
	client       *http.Client
	limiter      *rate.Limiter
	retry        retryPolicy
}

func NewTelegram(token, operatorChat string) *Telegram {
	return &Telegram{
		baseURL:      telegramBaseURL,
		token:        token,
		operatorChat: operatorChat,
		client:       &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(25), 5),
		retry:        defaultRetry,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send messages every subscribed chat. One unreachable chat does not keep
// the rest from being notified.
func (t *Telegram) Send(ctx context.Context, msg Message, to model.Recipients) error {
	var errs []error
	for _, id := range to.TelegramIDs {
		chat := strconv.FormatInt(id, 10)
		if err := t.sendText(ctx, chat, msg.Body); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chat, err))
		}
	}
	return errors.Join(errs...)
}

// Alert messages the operator chat, if one is configured.
func (t *Telegram) Alert(ctx context.Context, text string) error {
	if t.operatorChat == "" {
		return nil
	}
	return t.sendText(ctx, t.operatorChat, text)
}

func (t *Telegram) sendText(ctx context.Context, chatID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("encode telegram message: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	return t.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return newStatusError(resp, body)
		}
		return nil
	})
}
