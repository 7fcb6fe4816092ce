package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"cardDesigner/internal/cardlayout"
)

const cardDesignPath = "/v1/settings/card-design"

// RemoteStore 通过 REST 接口读写卡片设计，供独立运行的编辑器使用。
type RemoteStore struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
}

// NewRemoteStore 构造客户端；token 为空时不带 Authorization 头。
func NewRemoteStore(baseURL, token string) *RemoteStore {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.HTTPClient.Timeout = 10 * time.Second

	return &RemoteStore{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

func (s *RemoteStore) Get(ctx context.Context) (cardlayout.CardLayout, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+cardDesignPath, nil)
	if err != nil {
		return cardlayout.CardLayout{}, fmt.Errorf("build card design request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return cardlayout.CardLayout{}, fmt.Errorf("fetch card design: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cardlayout.CardLayout{}, fmt.Errorf("read card design: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return cardlayout.CardLayout{}, fmt.Errorf("fetch card design status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return cardlayout.CardLayout{}, ErrNotFound
	}
	return cardlayout.Decode(trimmed)
}

func (s *RemoteStore) Put(ctx context.Context, layout cardlayout.CardLayout) error {
	data, err := cardlayout.Encode(layout)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+cardDesignPath, data)
	if err != nil {
		return fmt.Errorf("build card design request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("save card design: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return fmt.Errorf("save card design status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *RemoteStore) authorize(req *retryablehttp.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
