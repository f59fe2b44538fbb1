package notifier

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/common/config"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/wneessen/go-mail"
)

// DefaultEmailTimeout 单次邮件投递（连接 + 会话）的上限
const DefaultEmailTimeout = 15 * time.Second

// SendFunc 投递一封已组装的邮件，测试中可替换
type SendFunc func(ctx context.Context, msg *mail.Msg) error

// EmailChannel SMTP 邮件告警
type EmailChannel struct {
	cfg     config.SMTPConfig
	mapURL  string
	loc     *time.Location
	timeout time.Duration
	send    SendFunc
}

// NewEmailChannel 创建邮件渠道，SMTP 未配置或无收件人时返回 nil
// loc 为正文时间的展示时区，nil 时使用 UTC
func NewEmailChannel(cfg config.SMTPConfig, mapURL string, loc *time.Location) *EmailChannel {
	if !cfg.Enabled() || cfg.To == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &EmailChannel{
		cfg:     cfg,
		mapURL:  mapURL,
		loc:     loc,
		timeout: DefaultEmailTimeout,
	}
	c.send = c.dialAndSend
	return c
}

// WithSender 替换投递函数
func (c *EmailChannel) WithSender(fn SendFunc) *EmailChannel {
	c.send = fn
	return c
}

// WithTimeout 设置单次投递上限
func (c *EmailChannel) WithTimeout(d time.Duration) *EmailChannel {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, event *models.TransitionEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: email: %v", ErrNotification, err)
	}

	msg, err := c.message(event)
	if err != nil {
		return fmt.Errorf("%w: email: %v", ErrNotification, err)
	}

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: email to %s: %v", ErrNotification, c.cfg.To, err)
	}
	return nil
}

func (c *EmailChannel) recipients() []string {
	to := strings.Split(c.cfg.To, ",")
	out := to[:0]
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func (c *EmailChannel) message(event *models.TransitionEvent) (*mail.Msg, error) {
	subject, body := c.compose(event)

	msg := mail.NewMsg()
	if err := msg.From(c.cfg.From); err != nil {
		return nil, err
	}
	if err := msg.To(c.recipients()...); err != nil {
		return nil, err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// dialAndSend 整个 SMTP 会话受 min(ctx 截止时间, timeout) 约束
// 连接上设置读写截止时间，服务端接受连接后不响应也会按时返回
func (c *EmailChannel) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	opts := []mail.Option{
		mail.WithPort(c.cfg.Port),
		mail.WithTimeout(time.Until(deadline)),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(dialCtx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}),
	}
	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}

	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func (c *EmailChannel) compose(event *models.TransitionEvent) (subject, body string) {
	a := event.Alert
	level := strings.ToUpper(a.Level.String())
	subject = fmt.Sprintf("PM2.5 Alert: %s - Device %s", level, a.DeviceID)

	var b strings.Builder
	b.WriteString("PM2.5 Ghostbuster Alert\n\n")
	fmt.Fprintf(&b, "Device: %s\n", a.DeviceID)
	fmt.Fprintf(&b, "Alert Level: %s\n", level)
	fmt.Fprintf(&b, "PM2.5 Value: %g μg/m³\n", a.PM25Value)
	fmt.Fprintf(&b, "Location: %.6f, %.6f\n", a.Location.Latitude, a.Location.Longitude)
	fmt.Fprintf(&b, "Time: %s\n\n", a.TriggeredAt.In(c.loc).Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Message: %s\n\n", a.Message)
	fmt.Fprintf(&b, "View live data: %s\n\n", c.mapURL)
	b.WriteString("---\nPM2.5 Ghostbuster Alert System\n")

	return subject, b.String()
}
