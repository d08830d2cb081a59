package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

const (
	discordBaseURL = "https://discord.com/api/v10"

	// Discord rejects message content longer than this many characters.
	discordMaxContent = 2000
)

// Discord posts one message per notification to the announcement channel,
// mentioning every subscribed user.
type Discord struct {
	baseURL   string
	token     string
	channelID string
	client    *http.Client
	retry     retryPolicy
}

func NewDiscord(token, channelID string) *Discord {
	return &Discord{
		baseURL:   discordBaseURL,
		token:     token,
		channelID: channelID,
		client:    &http.Client{Timeout: 10 * time.Second},
		retry:     defaultRetry,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, msg Message, to model.Recipients) error {
	if len(to.DiscordIDs) == 0 {
		return nil
	}

	mentions := make([]string, 0, len(to.DiscordIDs))
	for _, id := range to.DiscordIDs {
		mentions = append(mentions, "<@"+id+">")
	}
	content := strings.Join(mentions, " ") + "\n" + msg.Body
	content = truncateRunes(content, discordMaxContent)

	payload, err := json.Marshal(map[string]any{
		"content": content,
		"allowed_mentions": map[string]any{
			"users": to.DiscordIDs,
		},
	})
	if err != nil {
		return fmt.Errorf("encode discord message: %w", err)
	}
	url := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, d.channelID)

	return d.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create discord request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bot "+d.token)

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return newStatusError(resp, body)
		}
		return nil
	})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
