package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/google/uuid"

	"mihari/internal/recovery"
)

// Config はHLSAdapterのチューニング設定
type Config struct {
	BaseURL       string        // HLS配信のベースURL
	ProbeInterval time.Duration // プレイリスト監視間隔
	MaxErrors     int           // エラーイベント生成までの連続失敗回数
	HTTPClient    *http.Client  // 取得に使用するクライアント
}

// HLSAdapter はHLSプレイリストの監視によるAdapter実装
//
// ハンドルごとに監視ゴルーチンを起動し、マニフェストの取得・解析結果を
// 分類済みイベントとして流す。取得失敗は連続回数が閾値に達するまで
// イベント化しない（瞬断でセッションを揺らさないため）。
type HLSAdapter struct {
	config Config
	policy *recovery.Policy

	handles map[string]*Handle
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewHLSAdapter は新しいHLSAdapterを作成する
func NewHLSAdapter(config Config, policy *recovery.Policy) *HLSAdapter {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 2 * time.Second
	}
	if config.MaxErrors < 1 {
		config.MaxErrors = 3
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &HLSAdapter{
		config:  config,
		policy:  policy,
		handles: make(map[string]*Handle),
	}
}

// Attach はカメラの監視を開始しハンドルを発行する
func (a *HLSAdapter) Attach(ctx context.Context, cameraID string) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 二重attachの防止
	if _, exists := a.handles[cameraID]; exists {
		return nil, fmt.Errorf("カメラ %s: %w", cameraID, ErrAlreadyAttached)
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	handle := &Handle{
		ID:          uuid.New().String(),
		CameraID:    cameraID,
		PlaylistURL: ManifestURL(a.config.BaseURL, cameraID),
		events:      make(chan Event, 16),
		kick:        make(chan kickRequest, 1),
		cancel:      cancel,
	}

	a.handles[cameraID] = handle

	// 監視ゴルーチンを開始
	a.wg.Add(1)
	go a.monitor(monitorCtx, handle)

	return handle, nil
}

// Detach はハンドルを解放する（冪等）
func (a *HLSAdapter) Detach(h *Handle) error {
	if h == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, exists := a.handles[h.CameraID]
	if !exists || current.ID != h.ID {
		// 既に解放済み
		return nil
	}

	delete(a.handles, h.CameraID)
	h.cancel()

	return nil
}

// RetryLoad は同一マニフェストの即時再読み込みを要求する
func (a *HLSAdapter) RetryLoad(h *Handle) error {
	return a.requestProbe(h, kickRequest{resync: false})
}

// RecoverMedia はメディア復旧を要求する
func (a *HLSAdapter) RecoverMedia(h *Handle) error {
	return a.requestProbe(h, kickRequest{resync: true})
}

// Close は全ハンドルを解放し監視ゴルーチンの終了を待つ
func (a *HLSAdapter) Close() {
	a.mu.Lock()
	for id, h := range a.handles {
		h.cancel()
		delete(a.handles, id)
	}
	a.mu.Unlock()

	a.wg.Wait()
}

// requestProbe は監視ループに即時プローブを依頼する
func (a *HLSAdapter) requestProbe(h *Handle, req kickRequest) error {
	if h == nil {
		return ErrHandleInactive
	}

	a.mu.Lock()
	current, exists := a.handles[h.CameraID]
	a.mu.Unlock()

	if !exists || current.ID != h.ID {
		return fmt.Errorf("カメラ %s: %w", h.CameraID, ErrHandleInactive)
	}

	// 既に要求が積まれている場合は統合する
	select {
	case h.kick <- req:
	default:
	}

	return nil
}

// monitor はハンドルの監視ループ
//
// プレイリストの取得・解析に成功するとEventAttachedを一度だけ生成し、
// 以降の失敗は分類してEventErrorとして流す。エラーイベント生成後は
// 次の成功で再びEventAttachedを生成する（復旧完了の通知）。
func (a *HLSAdapter) monitor(ctx context.Context, h *Handle) {
	defer a.wg.Done()
	defer close(h.events)

	ticker := time.NewTicker(a.config.ProbeInterval)
	defer ticker.Stop()

	attached := false
	consecutive := 0

	for {
		err := a.probe(ctx, h)

		if ctx.Err() != nil {
			return
		}

		if err == nil {
			consecutive = 0
			if !attached {
				if !emit(ctx, h, Event{Type: EventAttached}) {
					return
				}
				attached = true
			}
		} else {
			kind := a.policy.Classify(err)

			// 致命的エラーは閾値を待たずに通知する
			if kind == recovery.KindFatal {
				if !emit(ctx, h, Event{Type: EventError, Kind: kind, Err: err}) {
					return
				}
				attached = false
				consecutive = 0
			} else {
				consecutive++
				if consecutive >= a.config.MaxErrors {
					if !emit(ctx, h, Event{Type: EventError, Kind: kind, Err: err}) {
						return
					}
					attached = false
					consecutive = 0
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case req := <-h.kick:
			if req.resync {
				// メディア復旧: 解析状態をリセットして再プローブ
				attached = false
				consecutive = 0
			}
		case <-ticker.C:
		}
	}
}

// probe はマニフェストを一度取得・解析する
func (a *HLSAdapter) probe(ctx context.Context, h *Handle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.PlaylistURL, nil)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &recovery.StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return fmt.Errorf("プレイリストの解析に失敗: %w", err)
	}

	switch p := pl.(type) {
	case *playlist.Media:
		if len(p.Segments) == 0 {
			return fmt.Errorf("プレイリストにセグメントがありません")
		}
	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return fmt.Errorf("マスタープレイリストにバリアントがありません")
		}
	default:
		return fmt.Errorf("未知のプレイリスト形式")
	}

	return nil
}

// emit はイベントを送出する。コンテキスト終了時はfalseを返す
func emit(ctx context.Context, h *Handle, ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// MockAdapter はテスト用のモックアダプター実装
type MockAdapter struct {
	handles map[string]*Handle
	mu      sync.Mutex

	// 呼び出し記録
	AttachCalls       []string
	DetachCalls       []string
	RetryLoadCalls    []string
	RecoverMediaCalls []string

	// テスト制御用
	shouldFailAttach bool
}

// NewMockAdapter は新しいMockAdapterを作成する
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		handles: make(map[string]*Handle),
	}
}

// Attach はモックハンドルを発行する
func (m *MockAdapter) Attach(_ context.Context, cameraID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AttachCalls = append(m.AttachCalls, cameraID)

	if m.shouldFailAttach {
		return nil, fmt.Errorf("モック: attachに失敗")
	}

	if _, exists := m.handles[cameraID]; exists {
		return nil, fmt.Errorf("カメラ %s: %w", cameraID, ErrAlreadyAttached)
	}

	handle := &Handle{
		ID:          uuid.New().String(),
		CameraID:    cameraID,
		PlaylistURL: ManifestURL("http://mock", cameraID),
		events:      make(chan Event, 16),
		kick:        make(chan kickRequest, 1),
		cancel:      func() {},
	}

	m.handles[cameraID] = handle
	return handle, nil
}

// Detach はモックハンドルを解放する（冪等）
func (m *MockAdapter) Detach(h *Handle) error {
	if h == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.handles[h.CameraID]
	if !exists || current.ID != h.ID {
		return nil
	}

	m.DetachCalls = append(m.DetachCalls, h.CameraID)
	delete(m.handles, h.CameraID)
	close(h.events)

	return nil
}

// RetryLoad は再読み込み要求を記録する
func (m *MockAdapter) RetryLoad(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil {
		return ErrHandleInactive
	}

	m.RetryLoadCalls = append(m.RetryLoadCalls, h.CameraID)
	return nil
}

// RecoverMedia はメディア復旧要求を記録する
func (m *MockAdapter) RecoverMedia(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil {
		return ErrHandleInactive
	}

	m.RecoverMediaCalls = append(m.RecoverMediaCalls, h.CameraID)
	return nil
}

// RetryLoadCount は再読み込み要求の回数を返す
func (m *MockAdapter) RetryLoadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RetryLoadCalls)
}

// RecoverMediaCount はメディア復旧要求の回数を返す
func (m *MockAdapter) RecoverMediaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecoverMediaCalls)
}

// Inject は指定カメラのハンドルにイベントを注入する
func (m *MockAdapter) Inject(cameraID string, ev Event) bool {
	m.mu.Lock()
	handle, exists := m.handles[cameraID]
	m.mu.Unlock()

	if !exists {
		return false
	}

	handle.events <- ev
	return true
}

// ActiveHandle は指定カメラの有効なハンドルを返す
func (m *MockAdapter) ActiveHandle(cameraID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, exists := m.handles[cameraID]
	return handle, exists
}

// SetShouldFailAttach はテスト用にattach失敗を設定する
func (m *MockAdapter) SetShouldFailAttach(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailAttach = shouldFail
}
