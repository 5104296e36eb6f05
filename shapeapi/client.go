// Package shapeapi 图形服务HTTP客户端
package shapeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
)

// Client 图形CRUD客户端，所有传输与非2xx错误均为 NETWORK_ERROR
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option 客户端可选项
type Option func(*Client)

// WithHTTPClient 替换默认http客户端
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// New 创建客户端
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateShape 新建图形
func (c *Client) CreateShape(ctx context.Context, shape models.Shape) (models.Shape, error) {
	var out models.Shape
	err := c.do(ctx, http.MethodPost, "/api/shapes", shape, &out)
	return out, err
}

// UpdateShape 局部更新
func (c *Client) UpdateShape(ctx context.Context, id string, patch models.ShapePatch) (models.Shape, error) {
	var out models.Shape
	err := c.do(ctx, http.MethodPatch, "/api/shapes/"+url.PathEscape(id), patch, &out)
	return out, err
}

// BulkDelete 批量删除，返回删除数量
func (c *Client) BulkDelete(ctx context.Context, ids []string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodPost, "/api/shapes/bulk-delete", map[string]any{"uuids": ids}, &out)
	return out.Count, err
}

// BulkCreate 批量新建
func (c *Client) BulkCreate(ctx context.Context, shapes []models.Shape) ([]models.Shape, error) {
	var out []models.Shape
	err := c.do(ctx, http.MethodPost, "/api/shapes/bulk-create", map[string]any{"shapes": shapes}, &out)
	return out, err
}

// GetAllShapeMetadata 分组与图形元数据，不含几何；namespace为空时返回全部分组
func (c *Client) GetAllShapeMetadata(ctx context.Context, namespace string) ([]models.Namespace, error) {
	path := "/api/namespaces"
	if namespace != "" {
		path += "?namespace=" + url.QueryEscape(namespace)
	}
	var out []models.Namespace
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetShapeByUUID 按需获取单个图形几何
func (c *Client) GetShapeByUUID(ctx context.Context, id string) (models.Shape, error) {
	var out models.Shape
	err := c.do(ctx, http.MethodGet, "/api/shapes/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateNamespace 新建分组
func (c *Client) CreateNamespace(ctx context.Context, ns models.Namespace) (models.Namespace, error) {
	var out models.Namespace
	err := c.do(ctx, http.MethodPost, "/api/namespaces", ns, &out)
	return out, err
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return methods.ValidationError().With("path", path).Wrapf(err, "encode request")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return methods.NetworkError().With("path", path).Wrapf(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return methods.NetworkError().With("method", method).With("path", path).Wrapf(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := eb.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return methods.NetworkError().
			With("method", method).
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return methods.NetworkError().With("path", path).Wrapf(err, "decode response")
	}
	return nil
}

// StatusCode 从错误上下文取HTTP状态码，无则返回0
func StatusCode(err error) int {
	if v, ok := methods.ErrorContext(err)["status"].(int); ok {
		return v
	}
	return 0
}
