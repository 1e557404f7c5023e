package session

import (
	"errors"
	"time"

	"mihari/internal/player"
	"mihari/internal/recovery"
)

// State はセッションの状態を表す
type State string

const (
	StateIdle       State = "idle"       // セッション未開始
	StateStarting   State = "starting"   // 開始要求済み・再生開始待ち
	StateLive       State = "live"       // 再生中
	StateRecovering State = "recovering" // 障害からの復旧試行中
	StateStopping   State = "stopping"   // 停止処理中
	StateStopped    State = "stopped"    // 停止完了（終端）
	StateFailed     State = "failed"     // 復旧不能（RequestStartでのみ再開可能）
)

// EventKind はセッションへ投入されるイベントの種別
type EventKind string

const (
	EventRequestStart      EventKind = "request_start"      // 操作者による開始要求
	EventRequestStop       EventKind = "request_stop"       // 操作者による停止要求
	EventHandleAcquired    EventKind = "handle_acquired"    // attachが解決しハンドルを取得した
	EventPlayerAttached    EventKind = "player_attached"    // マニフェスト読み込み成功・再生可能
	EventPlayerError       EventKind = "player_error"       // 分類済みプレイヤーエラー
	EventRecoveryExhausted EventKind = "recovery_exhausted" // 復旧試行の打ち切り
	EventServerReportsDown EventKind = "server_reports_down" // サーバーが停止中と報告
	EventServerReportsUp   EventKind = "server_reports_up"   // サーバーが稼働中と報告
	EventStopCompleted     EventKind = "stop_completed"     // 停止処理の完了
	EventControlRejected   EventKind = "control_rejected"   // 制御リクエスト失敗（楽観状態の巻き戻し）
)

// Event はセッションへ投入されるイベント
type Event struct {
	Kind      EventKind      // イベント種別
	ErrorKind recovery.Kind  // EventPlayerError の場合のエラー分類
	Err       error          // 元エラー（EventPlayerError / EventControlRejected）
	Handle    *player.Handle // EventHandleAcquired の場合の取得ハンドル
}

// Effect は遷移に伴って呼び出し側が実行すべき副作用
type Effect string

const (
	EffectNone         Effect = "none"          // 副作用なし
	EffectAttach       Effect = "attach"        // プレイヤーハンドルの取得を開始する
	EffectBeginPlay    Effect = "begin_play"    // 再生を開始する
	EffectRetryLoad    Effect = "retry_load"    // 同一マニフェストの再読み込み
	EffectRecoverMedia Effect = "recover_media" // メディア復旧の試行
	EffectDetach       Effect = "detach"        // ハンドルの解放（返却レコードのHandleが対象）
)

// Record はカメラごとのセッションレコード
//
// ストアが排他的に所有し、変更は必ずTransitionを経由する。
// Transitionが返すのはコピーであり、呼び出し側が変更しても
// ストア内の状態には影響しない。
type Record struct {
	CameraID     string         // カメラの一意識別子（セッション生成後は不変）
	State        State          // 現在の状態
	RetryCount   int            // 当該エピソードの復旧試行回数
	MediaRetries int            // 当該エピソードのメディア復旧回数
	LastError    string         // 直近のエラー（表示用）
	Handle       *player.Handle // プレイヤーハンドル（所有期間のみ非nil）

	// ServerDisagrees はサーバー観測とローカル状態の食い違いを示す
	// 表示用フラグ。ServerReportsUpまたはLiveへの復帰で消える
	ServerDisagrees bool

	UpdatedAt time.Time // 最終遷移時刻
}

// エラー定義
var (
	// ErrInvalidTransition は現在の状態で無効なイベントを表す
	ErrInvalidTransition = errors.New("無効な状態遷移です")

	// ErrUnknownCamera は未登録のカメラへの操作を表す
	ErrUnknownCamera = errors.New("カメラが見つかりません")
)

// Active はセッションが動作中（終端でない）かを返す
func (r Record) Active() bool {
	switch r.State {
	case StateStarting, StateLive, StateRecovering, StateStopping:
		return true
	default:
		return false
	}
}
