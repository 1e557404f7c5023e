package player

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mihari/internal/recovery"
)

// ErrAlreadyAttached は同一カメラへの二重attachを表す
var ErrAlreadyAttached = errors.New("カメラは既にattachされています")

// ErrHandleInactive は解放済みハンドルへの操作を表す
var ErrHandleInactive = errors.New("ハンドルは有効ではありません")

// EventType はハンドルが生成するイベントの種別
type EventType string

const (
	EventAttached EventType = "attached" // マニフェスト読み込みに成功し再生可能になった
	EventError    EventType = "error"    // 分類済みエラーが発生した
)

// Event はハンドルの監視ループが生成するイベント
type Event struct {
	Type EventType     // イベント種別
	Kind recovery.Kind // Type == EventError の場合のエラー分類
	Err  error         // 元エラー（EventErrorのみ）
}

// Handle はattachごとに発行される監視単位
//
// イベントチャンネルはハンドルの生存期間に対応する遅延・無限の列で、
// detachによりクローズされる。再attachは新しいハンドルと新しい列を生む。
type Handle struct {
	ID          string // ハンドルの一意識別子
	CameraID    string // 対象カメラ
	PlaylistURL string // 監視対象のマニフェストURL

	events chan Event
	kick   chan kickRequest
	cancel context.CancelFunc
}

// kickRequest は監視ループへの即時再プローブ要求
type kickRequest struct {
	resync bool // メディア復旧時は解析状態をリセットする
}

// Events はこのハンドルのイベント列を返す
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Adapter は配信エンジンへの操作を抽象化するインターフェース
type Adapter interface {
	// Attach はカメラの監視を開始しハンドルを発行する
	// 既にハンドルが有効な場合はErrAlreadyAttachedを返す
	Attach(ctx context.Context, cameraID string) (*Handle, error)

	// Detach はハンドルを解放する（冪等）
	Detach(h *Handle) error

	// RetryLoad は同一マニフェストの即時再読み込みを要求する
	RetryLoad(h *Handle) error

	// RecoverMedia はメディア復旧（解析状態のリセットと再読み込み）を要求する
	RecoverMedia(h *Handle) error
}

// ManifestURL はカメラIDからマニフェストURLを導出する
//
// 純粋関数であり、同一カメラに対して常に同一のURLを返す。
// RetryLoadが同一リソースを再要求できることの前提となる。
func ManifestURL(baseURL, cameraID string) string {
	return fmt.Sprintf("%s/hls/camera_%s/playlist.m3u8", strings.TrimRight(baseURL, "/"), cameraID)
}
