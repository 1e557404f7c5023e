package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind はプレイヤーエラーの分類を表す
type Kind string

const (
	KindNetwork Kind = "network" // 転送路の障害（再読み込みで回復が期待できる）
	KindMedia   Kind = "media"   // プレイリスト・セグメントの内容異常
	KindFatal   Kind = "fatal"   // 回復不能な障害
)

// Action は復旧判断の結果を表す
type Action string

const (
	ActionRetryLoad    Action = "retry_load"    // 同一マニフェストの再読み込み
	ActionRecoverMedia Action = "recover_media" // メディア復旧の試行
	ActionDestroy      Action = "destroy"       // セッションの即時破棄
	ActionExhausted    Action = "exhausted"     // 復旧試行の打ち切り
)

// StatusError はHTTPステータスコードによる取得失敗を表す
type StatusError struct {
	Code int // レスポンスのステータスコード
}

// Error はエラーメッセージを返す
func (e *StatusError) Error() string {
	return fmt.Sprintf("予期しないステータスコード: %d", e.Code)
}

// Policy はエラー分類と復旧判断を提供する
type Policy struct{}

// NewPolicy は新しいPolicyを作成する
func NewPolicy() *Policy {
	return &Policy{}
}

// Classify は生エラーを種別に分類する
//
// 転送路系（接続失敗・タイムアウト・サーバーエラー）はネットワーク、
// 認証・消滅を示すステータスは致命的、それ以外（パース失敗など）は
// メディアとして扱う。
func (p *Policy) Classify(err error) Kind {
	if err == nil {
		return KindMedia
	}

	// HTTPステータスによる分類
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case 401, 403, 410:
			// 認証失敗・恒久的な消滅は再試行しても回復しない
			return KindFatal
		default:
			return KindNetwork
		}
	}

	// 転送路の障害
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	// プレイリストの内容異常
	return KindMedia
}

// Decide は分類済みエラーと当該エピソードのメディア復旧回数から
// 復旧アクションを決定する
//
// 判断はエラー種別のみに基づき、回数は打ち切り上限の判定にのみ使う。
func (p *Policy) Decide(kind Kind, mediaRetries int) Action {
	switch kind {
	case KindNetwork:
		// ネットワーク復旧は冪等で低コストのため無条件に再試行する
		return ActionRetryLoad
	case KindMedia:
		// メディア復旧はエピソードごとに一度だけ
		if mediaRetries >= 1 {
			return ActionExhausted
		}
		return ActionRecoverMedia
	case KindFatal:
		return ActionDestroy
	default:
		// 未知の種別は安全側に倒して破棄する
		return ActionDestroy
	}
}
