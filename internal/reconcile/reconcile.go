package reconcile

import (
	"sort"

	"mihari/internal/control"
	"mihari/internal/session"
)

// Change は照合により導出された遷移イベント
type Change struct {
	CameraID string            // 対象カメラ
	Event    session.EventKind // 適用すべきイベント
}

// Result は一回の照合結果
type Result struct {
	Changes    []Change // 適用すべき遷移（カメラID順）
	Discovered []string // ストアに無いサーバー既知のカメラ（カメラID順）
}

// Engine はスナップショットとストアの照合を行う
type Engine struct {
	failureThreshold    int
	consecutiveFailures int
}

// NewEngine は新しいEngineを作成する
func NewEngine() *Engine {
	return &Engine{
		failureThreshold: 3,
	}
}

// Reconcile はスナップショットと全レコードを突き合わせ、
// 適用すべき遷移と未表示カメラを導出する
//
// 非対称ポリシー: スナップショットに無いカメラを強制停止することは
// 決してない。停止方向の遷移はLive中の明示的な停止報告からのみ生じる。
func (e *Engine) Reconcile(snapshot control.StatusSnapshot, records []session.Record) Result {
	// スナップショットが届いた時点で失敗の連続は途切れる
	e.consecutiveFailures = 0

	var result Result
	known := make(map[string]bool, len(records))

	for _, rec := range records {
		known[rec.CameraID] = true

		health, inSnapshot := snapshot[rec.CameraID]
		if !inSnapshot {
			// ストアにあってスナップショットに無い: 強制遷移しない
			// （開始直後でサーバー側に未反映の可能性がある）
			continue
		}

		switch rec.State {
		case session.StateLive:
			if !health {
				result.Changes = append(result.Changes, Change{
					CameraID: rec.CameraID,
					Event:    session.EventServerReportsDown,
				})
			}
		case session.StateRecovering, session.StateFailed:
			if health {
				// 楽観的な確認。食い違い表示を消すだけでLiveは強制しない
				result.Changes = append(result.Changes, Change{
					CameraID: rec.CameraID,
					Event:    session.EventServerReportsUp,
				})
			}
		}
	}

	// スナップショットにあってストアに無い: サーバー既知の未表示セッション
	// 表示層へ通知するのみで、自動開始はしない
	for cameraID := range snapshot {
		if !known[cameraID] {
			result.Discovered = append(result.Discovered, cameraID)
		}
	}

	sort.Slice(result.Changes, func(i, j int) bool {
		return result.Changes[i].CameraID < result.Changes[j].CameraID
	})
	sort.Strings(result.Discovered)

	return result
}

// RecordPollFailure はポーリング失敗を記録する
// 閾値に達した場合にtrueを返す（呼び出し側は警告ログのみ行う）
func (e *Engine) RecordPollFailure() bool {
	e.consecutiveFailures++
	return e.consecutiveFailures == e.failureThreshold
}
