// Package slicecomm 切片流协议的客户端
package slicecomm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"SliceFM/model"
)

// ErrPaymentRejected 服务器拒绝了本次切片的扣款
var ErrPaymentRejected = errors.New("slicecomm: payment rejected")

// RequestError 服务端在 JSON 响应体中报告的错误
type RequestError struct {
	Code string
}

func (e *RequestError) Error() string { return "slicecomm: server error: " + e.Code }

// Client 切片服务器客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建切片服务器客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// BaseURL 客户端连接的服务器地址
func (c *Client) BaseURL() string { return c.baseURL }

// CoverURL 专辑封面的绝对地址
func (c *Client) CoverURL(albumID string) string {
	return c.baseURL + model.CoverPath(albumID)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s 返回错误状态码: %d", path, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := serverError(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析 %s 响应失败: %w", path, err)
	}
	return nil
}

// serverError 识别 {"accepted":false,"error":...} 响应体
func serverError(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var e model.ErrorResponse
	if json.Unmarshal(trimmed, &e) == nil && !e.Accepted && e.Error != "" {
		return &RequestError{Code: e.Error}
	}
	return nil
}

// Slice 是一次切片请求的结果
type Slice struct {
	Meta *model.SliceMeta
	Data []byte
}

// Slice 请求曲目的切片 no，从 payID 扣款；no 为 -1 时只返回元数据和 payID 的余额
func (c *Client) Slice(ctx context.Context, trackID int64, no int, payID string) (*Slice, error) {
	resp, err := c.post(ctx, "/slice", model.SliceRequest{ID: trackID, No: no, PayID: payID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取切片失败: %w", err)
	}

	meta, err := model.ParseSliceMeta(resp.Header)
	if err != nil {
		if serr := serverError(data); serr != nil {
			return nil, serr
		}
		return nil, fmt.Errorf("slice %d of %d: %w", no, trackID, err)
	}
	if !meta.Accepted {
		return &Slice{Meta: meta}, ErrPaymentRejected
	}
	return &Slice{Meta: meta, Data: data}, nil
}

// TitleInfo 不付费获取曲目元数据
func (c *Client) TitleInfo(ctx context.Context, trackID int64) (*model.SliceMeta, error) {
	s, err := c.Slice(ctx, trackID, model.MetadataSlice, "")
	if err != nil {
		return nil, err
	}
	return s.Meta, nil
}

// ServerInfo 获取服务器信息
func (c *Client) ServerInfo(ctx context.Context) (*model.InfoResponse, error) {
	var info model.InfoResponse
	if err := c.postJSON(ctx, "/info", struct{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Search 执行 generalTitle 搜索，type 字段强制设定
func (c *Client) Search(ctx context.Context, req model.SearchRequest) ([]model.TrackDescriptor, error) {
	req.Type = model.SearchGeneralTitle
	var out []model.TrackDescriptor
	if err := c.postJSON(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Albums 按名称搜索专辑
func (c *Client) Albums(ctx context.Context, searchString string) ([]model.Album, error) {
	var out []model.Album
	err := c.postJSON(ctx, "/search", model.SearchRequest{Type: model.SearchAlbum, SearchString: searchString}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AlbumTitles 获取专辑内的曲目
func (c *Client) AlbumTitles(ctx context.Context, albumID string) ([]model.TrackDescriptor, error) {
	var out []model.TrackDescriptor
	err := c.postJSON(ctx, "/search", model.SearchRequest{Type: model.SearchAlbumTitles, AlbumID: albumID}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
