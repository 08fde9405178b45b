package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// maxAssetSize 单个 stem 文件的最大字节数
const maxAssetSize = 512 << 20

// ErrUnsupportedScheme 没有 fetcher 能处理该 URL
var ErrUnsupportedScheme = errors.New("unsupported asset URL scheme")

// Fetcher downloads the bytes behind an asset URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// HTTPFetcher 通过 HTTP(S) 下载资源
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher 创建带超时的 HTTP fetcher
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch 下载 rawURL 的完整内容
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return readLimited(resp.Body, rawURL)
}

// FileFetcher 读取本地文件（file:// 或裸路径）
type FileFetcher struct{}

// Fetch 读取本地文件内容
func (FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
		p = u.Path
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()
	return readLimited(f, p)
}

func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, maxAssetSize)
	}
	return data, nil
}

// Router 根据 URL scheme 选择 fetcher
type Router struct {
	fetchers map[string]Fetcher
}

// NewRouter 创建默认路由：http/https 走 HTTP，file 与无 scheme 的路径走本地文件
func NewRouter(httpFetcher Fetcher) *Router {
	r := &Router{fetchers: make(map[string]Fetcher)}
	r.Register("http", httpFetcher)
	r.Register("https", httpFetcher)
	r.Register("file", FileFetcher{})
	r.Register("", FileFetcher{})
	return r
}

// Register 为 scheme 注册 fetcher，重复注册会覆盖
func (r *Router) Register(scheme string, f Fetcher) {
	r.fetchers[strings.ToLower(scheme)] = f
}

// Fetch 分发到对应 scheme 的 fetcher
func (r *Router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	scheme := ""
	if u, err := url.Parse(rawURL); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	// Windows 盘符会被解析为单字母 scheme
	if len(scheme) == 1 {
		scheme = ""
	}
	f, ok := r.fetchers[scheme]
	if !ok || f == nil {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrUnsupportedScheme)
	}
	return f.Fetch(ctx, rawURL)
}
