package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"registro-pacientes/internal/summary"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const apiPrefix = "/tracker/api/v1"

// apiResponse 服务端统一响应
type apiResponse struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker API error: %s (status: %d)", e.Message, e.StatusCode)
}

// ImportResult 导入结果
type ImportResult struct {
	ClinicPatients  int `json:"clinicPatients"`
	PrivatePatients int `json:"privatePatients"`
}

// SummaryQuery 汇总筛选参数
type SummaryQuery struct {
	Query   string
	Cohort  string
	Buckets []string
	Status  string
	Month   string
}

// Client 随访服务 HTTP 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建客户端
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client, logger: logger}
}

// Export 下载完整文档
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	return c.download(ctx, apiPrefix+"/export")
}

// Report 下载 Excel 汇总
func (c *Client) Report(ctx context.Context) ([]byte, error) {
	return c.download(ctx, apiPrefix+"/export/report.xlsx")
}

// Import 上传文档替换服务端状态
func (c *Client) Import(ctx context.Context, document []byte) (*ImportResult, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(document).
		Post(apiPrefix + "/import")
	if err != nil {
		return nil, fmt.Errorf("failed to call tracker API: %w", err)
	}

	var result ImportResult
	if err := c.decode(resp, &result); err != nil {
		return nil, err
	}
	c.logger.Info("Imported document",
		zap.Int("clinic_patients", result.ClinicPatients),
		zap.Int("private_patients", result.PrivatePatients),
	)
	return &result, nil
}

// Summary 查询汇总
func (c *Client) Summary(ctx context.Context, q SummaryQuery) (*summary.Summary, error) {
	req := c.httpClient.R().SetContext(ctx)
	if q.Query != "" {
		req.SetQueryParam("q", q.Query)
	}
	if q.Cohort != "" {
		req.SetQueryParam("cohort", q.Cohort)
	}
	if len(q.Buckets) > 0 {
		req.SetQueryParam("bucket", strings.Join(q.Buckets, ","))
	}
	if q.Status != "" {
		req.SetQueryParam("status", q.Status)
	}
	if q.Month != "" {
		req.SetQueryParam("month", q.Month)
	}

	resp, err := req.Get(apiPrefix + "/summary")
	if err != nil {
		return nil, fmt.Errorf("failed to call tracker API: %w", err)
	}
	var sum summary.Summary
	if err := c.decode(resp, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (c *Client) download(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.httpClient.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to call tracker API: %w", err)
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}
	return resp.Body(), nil
}

// decode 解析 Result 包装；非 2xx 或 code != 2000 视为错误
func (c *Client) decode(resp *resty.Response, out any) error {
	if resp.IsError() {
		return c.apiError(resp)
	}
	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if envelope.Code != 2000 {
		return &APIError{StatusCode: resp.StatusCode(), Message: envelope.Message}
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func (c *Client) apiError(resp *resty.Response) error {
	msg := resp.Status()
	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Message != "" {
		msg = envelope.Message
	}
	c.logger.Error("Tracker API returned error",
		zap.Int("status_code", resp.StatusCode()),
		zap.String("msg", msg),
	)
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}
