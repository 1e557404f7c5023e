package control

import (
	"fmt"
)

// StatusSnapshot は一回のポーリングで得たサーバー観測状態
//
// カメラIDから健全性フラグへの写像。次のポーリング結果で
// 全量置換され、部分的なマージは行われない。
type StatusSnapshot map[string]bool

// StartStopResult は開始・停止リクエストの結果
type StartStopResult struct {
	Status  string            `json:"status"`            // "success" または "error"
	Started []string          `json:"started,omitempty"` // 開始に成功したカメラ
	Stopped []string          `json:"stopped,omitempty"` // 停止に成功したカメラ
	Errors  map[string]string `json:"errors,omitempty"`  // カメラごとの失敗理由
}

// SystemResources はホストのリソース情報と収容力の見積もり
type SystemResources struct {
	CPU struct {
		PercentUsed  float64   `json:"percent_used"`
		PerCoreUsage []float64 `json:"per_core_usage"`
		CoreCount    int       `json:"core_count"`
	} `json:"cpu"`
	Memory struct {
		TotalGB     float64 `json:"total_gb"`
		AvailableGB float64 `json:"available_gb"`
		PercentUsed float64 `json:"percent_used"`
	} `json:"memory"`
	Disk struct {
		TotalGB     float64 `json:"total_gb"`
		FreeGB      float64 `json:"free_gb"`
		PercentUsed float64 `json:"percent_used"`
	} `json:"disk"`
	EstimatedCapacity map[string]int `json:"estimated_capacity"` // 解像度ごとの追加可能台数
}

// RequestError は制御リクエストの失敗を表す
//
// 操作者へ通知すべき失敗であり、楽観的に適用した状態の
// 巻き戻しを伴う（セッション制御側の責務）。
type RequestError struct {
	Op         string            // 失敗した操作（start / stop / status など）
	StatusCode int               // HTTPステータス（通信エラー時は0）
	Message    string            // サーバーからのメッセージ
	Details    map[string]string // カメラごとの失敗理由
	Err        error             // 元エラー
}

// Error はエラーメッセージを返す
func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("制御リクエスト %s に失敗しました: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("制御リクエスト %s に失敗しました: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("制御リクエスト %s に失敗しました (status=%d)", e.Op, e.StatusCode)
}

// Unwrap は元エラーを返す
func (e *RequestError) Unwrap() error {
	return e.Err
}

// サーバーレスポンスの生スキーマ

// statusResponse は GET /status のレスポンス
type statusResponse struct {
	ActiveStreams map[string]streamHealth `json:"active_streams"`
}

// streamHealth はカメラごとの稼働フラグ
// mainは必須フィールドであり、欠落はスキーマ不一致として扱う
type streamHealth struct {
	Main *bool `json:"main"`
}

// recordingsResponse は GET /recordings のレスポンス
type recordingsResponse struct {
	Recordings []string `json:"recordings"`
}

// errorBody は失敗レスポンスの本文
// 契約上は message だが、error を返す実装も許容する
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// text は通知用のメッセージを取り出す
func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}
