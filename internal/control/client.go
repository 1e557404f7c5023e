package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client は制御サーバーへのHTTPクライアント
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient は新しいClientを作成する
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status はサーバー観測状態のスナップショットを取得する
func (c *Client) Status(ctx context.Context) (StatusSnapshot, error) {
	body, err := c.get(ctx, "status", "/status")
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RequestError{Op: "status", Message: "レスポンスの解析に失敗", Err: err}
	}
	if resp.ActiveStreams == nil {
		return nil, &RequestError{Op: "status", Message: "active_streamsがありません"}
	}

	// スナップショットは全量置換。mainフラグの欠落はスキーマ不一致
	snapshot := make(StatusSnapshot, len(resp.ActiveStreams))
	for cameraID, health := range resp.ActiveStreams {
		if health.Main == nil {
			return nil, &RequestError{
				Op:      "status",
				Message: fmt.Sprintf("カメラ %s のmainフラグがありません", cameraID),
			}
		}
		snapshot[cameraID] = *health.Main
	}

	return snapshot, nil
}

// StartStreams は指定カメラの配信開始を要求する
func (c *Client) StartStreams(ctx context.Context, cameras []string) (*StartStopResult, error) {
	return c.requestStreams(ctx, "start", "/start-streams", cameras)
}

// StopStreams は指定カメラの配信停止を要求する
func (c *Client) StopStreams(ctx context.Context, cameras []string) (*StartStopResult, error) {
	return c.requestStreams(ctx, "stop", "/stop-streams", cameras)
}

// Recordings は録画ファイル一覧を取得する
func (c *Client) Recordings(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "recordings", "/recordings")
	if err != nil {
		return nil, err
	}

	var resp recordingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RequestError{Op: "recordings", Message: "レスポンスの解析に失敗", Err: err}
	}
	if resp.Recordings == nil {
		return nil, &RequestError{Op: "recordings", Message: "recordingsがありません"}
	}

	return resp.Recordings, nil
}

// SystemResources はホストのリソース情報を取得する
func (c *Client) SystemResources(ctx context.Context) (*SystemResources, error) {
	body, err := c.get(ctx, "system-resources", "/system-resources")
	if err != nil {
		return nil, err
	}

	var resp SystemResources
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RequestError{Op: "system-resources", Message: "レスポンスの解析に失敗", Err: err}
	}

	return &resp, nil
}

// requestStreams は開始・停止リクエストの共通処理
func (c *Client) requestStreams(ctx context.Context, op, path string, cameras []string) (*StartStopResult, error) {
	if len(cameras) == 0 {
		return nil, &RequestError{Op: op, Message: "カメラが指定されていません"}
	}

	payload, err := json.Marshal(map[string][]string{"cameras": cameras})
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	// 非2xxは失敗。本文のメッセージを操作者向けに取り出す
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Message: eb.text()}
	}

	var result StartStopResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Message: "レスポンスの解析に失敗", Err: err}
	}

	// 2xxでもstatusがerrorの場合は全カメラ失敗として扱う
	if result.Status == "error" {
		return nil, &RequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "サーバーが失敗を報告しました",
			Details:    result.Errors,
		}
	}

	return &result, nil
}

// get はGETリクエストの共通処理
func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Message: eb.text()}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	return body, nil
}
