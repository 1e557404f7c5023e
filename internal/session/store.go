package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"mihari/internal/recovery"
)

// Store はセッションレコードの唯一の保持者
type Store struct {
	policy  *recovery.Policy
	records map[string]*Record
	mu      sync.RWMutex
}

// NewStore は新しいStoreを作成する
func NewStore(policy *recovery.Policy) *Store {
	return &Store{
		policy:  policy,
		records: make(map[string]*Record),
	}
}

// transitionFunc は単一の遷移規則
// レコードの変更は検証が済んでから行うこと（拒否時は無変更）
type transitionFunc func(s *Store, rec *Record, ev Event) (Effect, error)

// transitions は状態遷移表
// ここに無い(状態, イベント)の組はすべてErrInvalidTransitionとなる
var transitions = map[State]map[EventKind]transitionFunc{
	StateIdle: {
		EventRequestStart: startSession,
	},
	StateStarting: {
		EventHandleAcquired: storeHandle,
		EventPlayerAttached: enterLive,
		EventPlayerError:    failIfFatal,
		EventRequestStop:    enterStopping,
		EventControlRejected: func(_ *Store, rec *Record, _ Event) (Effect, error) {
			// 開始要求が拒否された: 要求前の状態（レコードなし）へ巻き戻す
			rec.State = StateStopped
			return EffectDetach, nil
		},
	},
	StateLive: {
		EventPlayerError:      decideRecovery,
		EventServerReportsDown: serverDown,
		EventServerReportsUp:   clearDisagreement,
		EventRequestStop:       enterStopping,
	},
	StateRecovering: {
		EventPlayerAttached:    enterLive,
		EventPlayerError:       decideRecovery,
		EventRecoveryExhausted: exhaustRecovery,
		EventServerReportsUp:   clearDisagreement,
		EventRequestStop:       enterStopping,
	},
	StateStopping: {
		EventHandleAcquired: func(_ *Store, rec *Record, ev Event) (Effect, error) {
			// 停止要求後にattachが解決した: 即座に解放する（Liveには遷移させない）
			rec.Handle = ev.Handle
			return EffectDetach, nil
		},
		EventPlayerAttached: func(_ *Store, _ *Record, _ Event) (Effect, error) {
			// 解放待ちの間に届いた再生可能通知は無視する
			return EffectNone, nil
		},
		EventStopCompleted: func(_ *Store, rec *Record, _ Event) (Effect, error) {
			rec.State = StateStopped
			return EffectNone, nil
		},
		EventControlRejected: func(_ *Store, rec *Record, _ Event) (Effect, error) {
			// 停止要求が拒否された: ハンドルは既に解放済みのため、
			// 再attachによってセッションを要求前の稼働状態へ戻す
			rec.State = StateStarting
			return EffectAttach, nil
		},
	},
	StateFailed: {
		EventRequestStart: startSession,
		EventHandleAcquired: func(_ *Store, rec *Record, ev Event) (Effect, error) {
			// 失敗確定後に解決したattachは解放のみ行う
			rec.Handle = ev.Handle
			return EffectDetach, nil
		},
		EventServerReportsUp: clearDisagreement,
		EventRequestStop:     enterStopping,
	},
}

// Transition はイベントを適用してセッションを遷移させる
//
// 返すレコードはコピーであり、EffectDetachの場合は解放対象の
// ハンドルを含む（ストア内のレコードからは切り離される）。
// 無効な遷移はErrInvalidTransitionを返し、レコードは変更されない。
func (s *Store) Transition(cameraID string, ev Event) (Record, Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[cameraID]
	if !exists {
		// レコードは最初のRequestStartでのみ生成される
		if ev.Kind != EventRequestStart {
			return Record{}, EffectNone, fmt.Errorf("カメラ %s: %w", cameraID, ErrUnknownCamera)
		}
		rec = &Record{CameraID: cameraID, State: StateIdle}
		s.records[cameraID] = rec
	}

	fn, ok := transitions[rec.State][ev.Kind]
	if !ok {
		snapshot := *rec
		return snapshot, EffectNone, fmt.Errorf(
			"カメラ %s: 状態 %s でイベント %s は適用できません: %w",
			cameraID, rec.State, ev.Kind, ErrInvalidTransition)
	}

	effect, err := fn(s, rec, ev)
	if err != nil {
		snapshot := *rec
		return snapshot, EffectNone, err
	}

	rec.UpdatedAt = time.Now()
	snapshot := *rec

	// 解放指示を返した場合、ストア内のレコードはハンドルを手放す
	if effect == EffectDetach {
		rec.Handle = nil
	}

	// 終端に達したレコードは除去する
	if rec.State == StateStopped {
		delete(s.records, cameraID)
	}

	return snapshot, effect, nil
}

// Get は指定カメラのレコードのコピーを返す
func (s *Store) Get(cameraID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[cameraID]
	if !exists {
		return Record{}, false
	}
	return *rec, true
}

// List は全レコードのコピーをカメラID順で返す
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CameraID < records[j].CameraID
	})

	return records
}

// Remove は操作者の指示によりレコードを除去する
// 返すレコードには解放すべきハンドルが含まれることがある
func (s *Store) Remove(cameraID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[cameraID]
	if !exists {
		return Record{}, fmt.Errorf("カメラ %s: %w", cameraID, ErrUnknownCamera)
	}

	snapshot := *rec
	delete(s.records, cameraID)

	return snapshot, nil
}

// 遷移規則の実装

// startSession は開始要求を受けてセッションを開始する
func startSession(_ *Store, rec *Record, _ Event) (Effect, error) {
	rec.State = StateStarting
	rec.RetryCount = 0
	rec.MediaRetries = 0
	rec.LastError = ""
	rec.ServerDisagrees = false
	return EffectAttach, nil
}

// storeHandle は解決したattachのハンドルをレコードに格納する
func storeHandle(_ *Store, rec *Record, ev Event) (Effect, error) {
	rec.Handle = ev.Handle
	return EffectNone, nil
}

// enterLive は再生可能通知を受けてLiveへ遷移する
func enterLive(_ *Store, rec *Record, _ Event) (Effect, error) {
	rec.State = StateLive
	rec.RetryCount = 0
	rec.MediaRetries = 0
	rec.LastError = ""
	rec.ServerDisagrees = false
	return EffectBeginPlay, nil
}

// failIfFatal はStarting中のプレイヤーエラーを処理する
// 遷移表上、Starting中に有効なのは致命的エラーのみ
func failIfFatal(_ *Store, rec *Record, ev Event) (Effect, error) {
	if ev.ErrorKind != recovery.KindFatal {
		return EffectNone, fmt.Errorf(
			"カメラ %s: 状態 %s でエラー種別 %s は適用できません: %w",
			rec.CameraID, rec.State, ev.ErrorKind, ErrInvalidTransition)
	}

	rec.State = StateFailed
	if ev.Err != nil {
		rec.LastError = ev.Err.Error()
	}
	return EffectDetach, nil
}

// decideRecovery はLive/Recovering中のプレイヤーエラーを
// 復旧ポリシーに委ねて処理する
func decideRecovery(s *Store, rec *Record, ev Event) (Effect, error) {
	if ev.Err != nil {
		rec.LastError = ev.Err.Error()
	}

	switch s.policy.Decide(ev.ErrorKind, rec.MediaRetries) {
	case recovery.ActionRetryLoad:
		rec.State = StateRecovering
		rec.RetryCount++
		return EffectRetryLoad, nil
	case recovery.ActionRecoverMedia:
		rec.State = StateRecovering
		rec.RetryCount++
		rec.MediaRetries++
		return EffectRecoverMedia, nil
	case recovery.ActionExhausted:
		rec.State = StateFailed
		rec.LastError = "復旧試行を打ち切りました: " + rec.LastError
		return EffectDetach, nil
	default: // recovery.ActionDestroy
		rec.State = StateFailed
		return EffectDetach, nil
	}
}

// exhaustRecovery は復旧打ち切りイベントを処理する
func exhaustRecovery(_ *Store, rec *Record, _ Event) (Effect, error) {
	rec.State = StateFailed
	rec.LastError = "復旧試行を打ち切りました"
	return EffectDetach, nil
}

// serverDown はLive中のサーバー停止報告を処理する
// 楽観的に再読み込みを行い、食い違いフラグを立てる
func serverDown(_ *Store, rec *Record, _ Event) (Effect, error) {
	rec.State = StateRecovering
	rec.RetryCount++
	rec.ServerDisagrees = true
	return EffectRetryLoad, nil
}

// clearDisagreement はサーバー稼働報告により食い違いフラグを消す
// 状態そのものは変更しない（Liveへの強制遷移はしない）
func clearDisagreement(_ *Store, rec *Record, _ Event) (Effect, error) {
	rec.ServerDisagrees = false
	return EffectNone, nil
}

// enterStopping は停止要求を処理する
// ハンドルの解放はこの時点で指示される（全離脱経路での解放を保証）
func enterStopping(_ *Store, rec *Record, _ Event) (Effect, error) {
	rec.State = StateStopping
	return EffectDetach, nil
}

