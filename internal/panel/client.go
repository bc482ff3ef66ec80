package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/panel-gateway/internal/config"
	"github.com/panel-gateway/internal/models"
)

// APIError 上游返回的业务错误，Message 原样透传给前端
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// 错误定义
var (
	ErrEmptyResponse = Error("empty response from panel")
)

type Error string

func (e Error) Error() string {
	return string(e)
}

// Client 上游面板 API 客户端
type Client struct {
	http   *http.Client
	cfg    config.PanelConfig
	logger logrus.FieldLogger
}

// NewClient 创建上游客户端
func NewClient(cfg config.PanelConfig, logger logrus.FieldLogger) *Client {
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger.WithField("component", "panel"),
	}
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// GetSiteConfig 获取站点开关
func (c *Client) GetSiteConfig(ctx context.Context) (models.SiteConfig, error) {
	var cfg models.SiteConfig
	err := c.do(ctx, http.MethodGet, c.cfg.GuestConfigPath, "", nil, &cfg)
	return cfg, err
}

// Register 调用上游注册
func (c *Client) Register(ctx context.Context, payload models.RegisterPayload) (*models.AuthData, error) {
	var data models.AuthData
	if err := c.do(ctx, http.MethodPost, c.cfg.RegisterPath, "", payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SendEmailVerificationCode 请求上游向邮箱发送验证码
func (c *Client) SendEmailVerificationCode(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	return c.do(ctx, http.MethodPost, c.cfg.SendEmailPath, "", body, nil)
}

// GetUserSubscription 以用户凭据获取订阅信息
func (c *Client) GetUserSubscription(ctx context.Context, authData string) (*models.SubscriptionInfo, error) {
	var info models.SubscriptionInfo
	if err := c.do(ctx, http.MethodGet, c.cfg.SubscriptionPath, authData, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, method, path, authData string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authData != "" {
		req.Header.Set("Authorization", authData)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("panel request rejected")
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
