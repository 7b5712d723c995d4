// Package fetch performs conditional HTTP GETs for remote icons. It owns the
// shared, tuned transport and translates responses into a Result carrying the
// cache validators, a suggested file name and the open body stream.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/any-hub/iconcache/internal/config"
	"github.com/any-hub/iconcache/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Validators 是上一次成功抓取得到的条件请求凭据，空字符串表示缺失。
type Validators struct {
	ETag     string
	Modified string
}

// Empty 报告是否没有任何可用的凭据。
func (v Validators) Empty() bool {
	return v.ETag == "" && v.Modified == ""
}

// Result 描述一次抓取结果。Body 在 304 时为空，其余情况由调用方负责关闭。
type Result struct {
	Status   int
	ETag     string
	Modified string
	Filename string
	Body     io.ReadCloser
}

// NotModified 报告服务端是否确认缓存仍然有效。
func (r *Result) NotModified() bool {
	return r != nil && r.Status == http.StatusNotModified
}

// Close 释放响应体，可重复调用。
func (r *Result) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	err := r.Body.Close()
	r.Body = nil
	return err
}

// StatusError 表示非 2xx、非 304 的上游响应。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// ErrEmptyURL 表示调用方没有提供抓取地址。
var ErrEmptyURL = errors.New("fetch url required")

// Client 是基于共享 http.Client 的条件抓取器。
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient 根据配置构建抓取器；cfg 为空时使用默认超时与 User-Agent。
func NewClient(cfg *config.Config) *Client {
	timeout := 30 * time.Second
	userAgent := version.UserAgent()
	if cfg != nil {
		if d := cfg.Global.FetchTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		if ua := strings.TrimSpace(cfg.Global.UserAgent); ua != "" {
			userAgent = ua
		}
	}

	return NewClientWith(&http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}, userAgent)
}

// NewClientWith 使用外部 http.Client 构建抓取器，便于测试注入。
func NewClientWith(client *http.Client, userAgent string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{http: client, userAgent: userAgent}
}

// Timeout 返回底层 http.Client 的超时设置。
func (c *Client) Timeout() time.Duration {
	return c.http.Timeout
}

// Fetch 发起 GET 请求；带有凭据时附加 If-None-Match / If-Modified-Since。
// 304 作为正常结果返回，非 2xx 的其它状态返回 *StatusError。
func (c *Client) Fetch(ctx context.Context, rawURL string, v Validators) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrEmptyURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.Modified != "" {
		req.Header.Set("If-Modified-Since", v.Modified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	result := &Result{
		Status:   resp.StatusCode,
		ETag:     strings.TrimSpace(resp.Header.Get("ETag")),
		Modified: strings.TrimSpace(resp.Header.Get("Last-Modified")),
	}

	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return result, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode}
	}

	result.Filename = SuggestFilename(resp)
	result.Body = resp.Body
	return result, nil
}
