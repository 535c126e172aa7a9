package dashboardapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"botdash/clients/wire"
	"botdash/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPError is a non-2xx response from the bot service.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// DashboardApiClient talks to the bot service's REST API: the read-only
// endpoints used for polling and the action endpoints.
type DashboardApiClient struct {
	logger *zap.Logger
	client *resty.Client
	paths  config.ServerPaths
}

func NewDashboardApiClient(logger *zap.Logger, cfg *config.Config) *DashboardApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Server.BaseURL, "/")).
		SetTimeout(cfg.HTTP.Timeout).
		SetRetryCount(cfg.HTTP.RetryCount).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "botdash")

	// Only idempotent reads are retried; actions must not be replayed.
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
	})

	if cfg.Server.APIToken != "" {
		client.SetAuthToken(cfg.Server.APIToken)
	}

	return &DashboardApiClient{
		logger: logger,
		client: client,
		paths:  cfg.Server.Paths,
	}
}

// GetStatus fetches the bot run state.
func (c *DashboardApiClient) GetStatus(ctx context.Context) (*wire.BotStatusPayload, error) {
	var out wire.BotStatusPayload
	if err := c.doGet(ctx, c.paths.Status, &out); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &out, nil
}

// GetMarketData fetches current prices.
func (c *DashboardApiClient) GetMarketData(ctx context.Context) (*wire.MarketPayload, error) {
	var out wire.MarketPayload
	if err := c.doGet(ctx, c.paths.MarketData, &out); err != nil {
		return nil, fmt.Errorf("get market data: %w", err)
	}
	return &out, nil
}

// GetPositions fetches the account summary and open positions.
func (c *DashboardApiClient) GetPositions(ctx context.Context) (*wire.AccountPayload, error) {
	var out wire.AccountPayload
	if err := c.doGet(ctx, c.paths.Positions, &out); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return &out, nil
}

// ClosePosition asks the bot to close one position.
func (c *DashboardApiClient) ClosePosition(ctx context.Context, positionID string) (*wire.ClosePositionResponse, error) {
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return nil, fmt.Errorf("positionID is empty")
	}

	var out wire.ClosePositionResponse
	if err := c.doPost(ctx, c.paths.ClosePosition, wire.ClosePositionRequest{PositionID: positionID}, &out); err != nil {
		return nil, fmt.Errorf("close position %s: %w", positionID, err)
	}
	return &out, nil
}

// ControlBot starts or stops the bot.
func (c *DashboardApiClient) ControlBot(ctx context.Context, action string) (*wire.BotControlResponse, error) {
	var out wire.BotControlResponse
	if err := c.doPost(ctx, c.paths.BotControl, wire.BotControlRequest{Action: action}, &out); err != nil {
		return nil, fmt.Errorf("bot control %s: %w", action, err)
	}
	return &out, nil
}

// UpdateConfig pushes new trading settings to the bot.
func (c *DashboardApiClient) UpdateConfig(ctx context.Context, req wire.ConfigUpdateRequest) (*wire.ConfigUpdateResponse, error) {
	var out wire.ConfigUpdateResponse
	if err := c.doPost(ctx, c.paths.UpdateConfig, req, &out); err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}
	return &out, nil
}

func (c *DashboardApiClient) doGet(ctx context.Context, path string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(path)
	return c.handle(http.MethodGet, path, resp, err, out)
}

func (c *DashboardApiClient) doPost(ctx context.Context, path string, body, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	return c.handle(http.MethodPost, path, resp, err, out)
}

// handle decodes the body itself so decode failures are distinguishable
// (wire.ErrMalformed) from transport failures.
func (c *DashboardApiClient) handle(method, path string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}

	if resp.IsError() {
		body := string(resp.Body())
		if len(body) > 512 {
			body = body[:512]
		}
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode(), Body: body}
	}

	c.logger.Debug("dashboard api response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", resp.Time()),
	)

	if out == nil {
		return nil
	}
	return wire.Decode(resp.Body(), out)
}
