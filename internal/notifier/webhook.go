package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/go-resty/resty/v2"
)

// WebhookChannel 以 JSON POST 投递事件
type WebhookChannel struct {
	url        string
	httpClient *resty.Client
}

// NewWebhookChannel 创建 webhook 渠道，url 为空时返回 nil
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if url == "" {
		return nil
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "pm25-collector")

	return &WebhookChannel{
		url:        url,
		httpClient: client,
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, event *models.TransitionEvent) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("%w: webhook %s: %v", ErrNotification, c.url, err)
	}

	if resp.IsError() {
		return fmt.Errorf("%w: webhook %s returned status %d", ErrNotification, c.url, resp.StatusCode())
	}
	return nil
}
