package dexcom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"glucowatch/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrTokenExpired 提供方返回 401（token 失效或刷新被拒绝）
// 与其它 HTTP 失败（网络、限流、响应异常）区分，后者返回 *APIError
var ErrTokenExpired = errors.New("dexcom token expired or rejected")

// APIError 提供方返回的非 2xx 错误（非认证类）
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dexcom API error (status %d): %s", e.StatusCode, e.Description)
}

// TokenResponse OAuth token 端点响应
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // 秒
	TokenType    string `json:"token_type"`
}

// errorResponse OAuth 端点错误响应体
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// EGV 提供方返回的单条血糖记录（值/单位/时间戳原样透传，不做单位换算）
type EGV struct {
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	DisplayTime string  `json:"displayTime"`
}

// egvsResponse 读数端点响应
type egvsResponse struct {
	Records []EGV `json:"records"`
}

// Client Dexcom API 客户端（OAuth token 端点 + 读数端点）
type Client struct {
	httpClient   *resty.Client
	clientID     string
	clientSecret string
	redirectURI  string
	fetchWindow  time.Duration
	logger       *zap.Logger
}

// NewClient 创建 Dexcom 客户端
func NewClient(cfg *config.DexcomConfig, fetchWindow time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:   client,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		fetchWindow:  fetchWindow,
		logger:       logger,
	}
}

// AuthorizeURL 构建 OAuth 授权跳转地址
func (c *Client) AuthorizeURL(state string) string {
	return fmt.Sprintf("%s/v2/oauth2/login?client_id=%s&redirect_uri=%s&response_type=code&scope=offline_access&state=%s",
		c.httpClient.BaseURL, c.clientID, c.redirectURI, state)
}

// ExchangeCode 授权码换取 token 对（初次连接）
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.requestToken(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  c.redirectURI,
	})
}

// RefreshToken 用 refresh token 换取新 token 对
// 401 返回 ErrTokenExpired，调用方必须转为"需要重新授权"而不是静默重试
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.requestToken(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
}

func (c *Client) requestToken(ctx context.Context, form map[string]string) (*TokenResponse, error) {
	var result TokenResponse
	var apiErr errorResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v2/oauth2/token")
	if err != nil {
		return nil, fmt.Errorf("failed to call Dexcom token endpoint: %w", err)
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, ErrTokenExpired
	}
	if resp.IsError() {
		c.logger.Error("Dexcom token endpoint returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error_description", apiErr.ErrorDescription),
		)
		return nil, &APIError{StatusCode: resp.StatusCode(), Description: apiErr.ErrorDescription}
	}

	return &result, nil
}

// FetchLatest 查询最近 24 小时窗口内的读数，返回最新一条；窗口为空返回 nil
// 时间戳按提供方要求使用不带毫秒的 ISO-8601 格式
func (c *Client) FetchLatest(ctx context.Context, accessToken string) (*EGV, error) {
	now := time.Now().UTC()
	start := now.Add(-c.fetchWindow)

	var result egvsResponse
	var apiErr errorResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(map[string]string{
			"startDate": start.Format("2006-01-02T15:04:05"),
			"endDate":   now.Format("2006-01-02T15:04:05"),
			"minCount":  "1",
		}).
		SetResult(&result).
		SetError(&apiErr).
		Get("/v2/users/self/egvs")
	if err != nil {
		return nil, fmt.Errorf("failed to call Dexcom readings endpoint: %w", err)
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, ErrTokenExpired
	}
	if resp.IsError() {
		c.logger.Error("Dexcom readings endpoint returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error_description", apiErr.ErrorDescription),
		)
		return nil, &APIError{StatusCode: resp.StatusCode(), Description: apiErr.ErrorDescription}
	}

	if len(result.Records) == 0 {
		return nil, nil
	}

	// 提供方按自身排序返回，第一条即最新
	latest := result.Records[0]
	return &latest, nil
}

// ParseDisplayTime 解析提供方的显示时间戳（无毫秒 ISO-8601，可能带时区）
func ParseDisplayTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized display time: %q", s)
}
