package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"cardDesigner/internal/cardlayout"
)

const (
	printDataPath = "/internal/v1/badges/%s/print-data"
	// 与 API 内部接口中间件校验的 Header 一致。
	internalSecretHeader = "X-Internal-Secret"
)

// PrintData 是内部打印接口返回的数据。
type PrintData struct {
	VisitorID   string             `json:"visitor_id"`
	HTML        string             `json:"html"`
	PrintWidth  float64            `json:"print_width"`
	PrintHeight float64            `json:"print_height"`
	PrintUnit   cardlayout.Unit    `json:"print_unit"`
	Warnings    []printDataWarning `json:"warnings"`
}

func (d PrintData) PrintSize() cardlayout.PrintSize {
	return cardlayout.PrintSize{Width: d.PrintWidth, Height: d.PrintHeight, Unit: d.PrintUnit}
}

type printDataWarning struct {
	Code        int      `json:"code"`
	Message     string   `json:"message"`
	Elements    []string `json:"elements"`
	MissingKeys []string `json:"missing_keys"`
}

// PrintClient 从 API 的内部接口拉取打印数据。
// 只允许 Worker 通过 Header 携带 INTERNAL_API_SECRET 访问。
type PrintClient struct {
	baseURL string
	secret  string
	client  *retryablehttp.Client
}

func NewPrintClient(baseURL, secret string) *PrintClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = 15 * time.Second

	return &PrintClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  strings.TrimSpace(secret),
		client:  client,
	}
}

func (p *PrintClient) FetchPrintData(ctx context.Context, visitorID string) (PrintData, error) {
	if p.secret == "" {
		return PrintData{}, fmt.Errorf("internal api secret missing")
	}
	if p.baseURL == "" {
		return PrintData{}, fmt.Errorf("internal api base url missing")
	}

	targetURL := p.baseURL + fmt.Sprintf(printDataPath, url.PathEscape(visitorID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return PrintData{}, fmt.Errorf("build internal request: %w", err)
	}
	req.Header.Set(internalSecretHeader, p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return PrintData{}, fmt.Errorf("request internal print data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return PrintData{}, fmt.Errorf("internal print data status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data PrintData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return PrintData{}, fmt.Errorf("decode internal print data: %w", err)
	}
	if strings.TrimSpace(data.HTML) == "" {
		return PrintData{}, fmt.Errorf("internal print data has no html")
	}
	return data, nil
}
