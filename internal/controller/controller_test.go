package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mihari/internal/control"
	"mihari/internal/player"
	"mihari/internal/poller"
	"mihari/internal/reconcile"
	"mihari/internal/recovery"
	"mihari/internal/session"
)

// mockControl はテスト用のControlClient実装
type mockControl struct {
	mu         sync.Mutex
	startCalls [][]string
	stopCalls  [][]string
	failStart  bool
	failStop   bool
}

func (m *mockControl) StartStreams(_ context.Context, cameras []string) (*control.StartStopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls = append(m.startCalls, cameras)
	if m.failStart {
		return nil, errors.New("制御サーバーが開始を拒否")
	}
	return &control.StartStopResult{Status: "success", Started: cameras}, nil
}

func (m *mockControl) StopStreams(_ context.Context, cameras []string) (*control.StartStopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls = append(m.stopCalls, cameras)
	if m.failStop {
		return nil, errors.New("制御サーバーが停止を拒否")
	}
	return &control.StartStopResult{Status: "success", Stopped: cameras}, nil
}

// mockFetcher はテスト用のStatusFetcher実装
type mockFetcher struct {
	mu       sync.Mutex
	snapshot control.StatusSnapshot
	err      error
}

func (m *mockFetcher) Status(_ context.Context) (control.StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func (m *mockFetcher) set(snapshot control.StatusSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snapshot
}

// testController はテスト用のコントローラー一式を組み立てる
type testController struct {
	ctrl    *Controller
	adapter *player.MockAdapter
	client  *mockControl
	fetcher *mockFetcher
}

func newTestController(t *testing.T, pollInterval time.Duration) *testController {
	t.Helper()

	adapter := player.NewMockAdapter()
	client := &mockControl{}
	fetcher := &mockFetcher{snapshot: control.StatusSnapshot{}}

	ctrl := New(
		session.NewStore(recovery.NewPolicy()),
		adapter,
		client,
		poller.New(fetcher, pollInterval),
		reconcile.NewEngine(),
	)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("コントローラーの起動に失敗: %v", err)
	}
	t.Cleanup(ctrl.Stop)

	return &testController{ctrl: ctrl, adapter: adapter, client: client, fetcher: fetcher}
}

// waitFor は条件が成立するまで待つ
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("条件が成立しません: %s", desc)
}

// waitForState は指定カメラが指定状態になるまで待つ
func (tc *testController) waitForState(t *testing.T, cameraID string, state session.State) {
	t.Helper()

	waitFor(t, string(state), func() bool {
		rec, ok := tc.ctrl.Session(cameraID)
		return ok && rec.State == state
	})
}

func TestController_StartToLive(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}

	// 楽観的にStartingへ遷移し、attachが非同期に解決する
	rec, ok := tc.ctrl.Session("cam1")
	if !ok || rec.State != session.StateStarting {
		t.Fatalf("開始直後の状態 = %+v", rec)
	}

	// 再生可能通知でLiveへ
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)
}

func TestController_StartRejectedRollsBack(t *testing.T) {
	tc := newTestController(t, time.Hour)
	tc.client.failStart = true

	// 制御リクエスト失敗は操作者へ伝わり、楽観状態は巻き戻る
	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err == nil {
		t.Fatal("開始失敗がエラーになりません")
	}

	if _, ok := tc.ctrl.Session("cam1"); ok {
		t.Error("巻き戻し後もレコードが残っています")
	}

	// 並行して解決したattachのハンドルも確実に解放される
	waitFor(t, "ハンドルの解放", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return !ok
	})

	if len(tc.ctrl.Notices()) == 0 {
		t.Error("操作者向け通知が追加されていません")
	}
}

func TestController_StopRoundTrip(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	if err := tc.ctrl.StopCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StopCameraに失敗: %v", err)
	}

	// レコードは除去され、ハンドルは解放される
	if _, ok := tc.ctrl.Session("cam1"); ok {
		t.Error("停止後もレコードが残っています")
	}
	waitFor(t, "ハンドルの解放", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return !ok
	})

	tc.client.mu.Lock()
	defer tc.client.mu.Unlock()
	if len(tc.client.stopCalls) != 1 {
		t.Errorf("停止リクエストの回数 = %d, want 1", len(tc.client.stopCalls))
	}
}

func TestController_StopRejectedReattaches(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	// 停止が拒否されるとセッションは稼働状態へ戻る
	tc.client.mu.Lock()
	tc.client.failStop = true
	tc.client.mu.Unlock()

	if err := tc.ctrl.StopCamera(context.Background(), "cam1"); err == nil {
		t.Fatal("停止失敗がエラーになりません")
	}

	// 再attachが解決し、再生可能通知で再びLiveへ戻れる
	waitFor(t, "再attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)
}

func TestController_NetworkErrorSchedulesRetry(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	// ネットワークエラーでRecoveringへ遷移し、再読み込みが予約される
	tc.adapter.Inject("cam1", player.Event{
		Type: player.EventError,
		Kind: recovery.KindNetwork,
		Err:  errors.New("接続失敗"),
	})
	tc.waitForState(t, "cam1", session.StateRecovering)

	waitFor(t, "再読み込みの実行", func() bool {
		return tc.adapter.RetryLoadCount() > 0
	})

	// 復旧成功でLiveへ復帰する
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	rec, _ := tc.ctrl.Session("cam1")
	if rec.RetryCount != 0 {
		t.Errorf("Live復帰後のRetryCount = %d, want 0", rec.RetryCount)
	}
}

func TestController_MediaErrorExhaustsOnSecond(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	// 1回目のメディアエラー: 復旧試行が予約される
	tc.adapter.Inject("cam1", player.Event{
		Type: player.EventError,
		Kind: recovery.KindMedia,
		Err:  errors.New("セグメント異常"),
	})
	tc.waitForState(t, "cam1", session.StateRecovering)
	waitFor(t, "メディア復旧の実行", func() bool {
		return tc.adapter.RecoverMediaCount() > 0
	})

	// 2回目のメディアエラー: 打ち切られFailedへ
	tc.adapter.Inject("cam1", player.Event{
		Type: player.EventError,
		Kind: recovery.KindMedia,
		Err:  errors.New("セグメント異常"),
	})
	tc.waitForState(t, "cam1", session.StateFailed)
	waitFor(t, "ハンドルの解放", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return !ok
	})
}

func TestController_FatalErrorFailsSession(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	// 致命的エラーで即座にFailedとなりハンドルは解放される
	tc.adapter.Inject("cam1", player.Event{
		Type: player.EventError,
		Kind: recovery.KindFatal,
		Err:  errors.New("認証失敗"),
	})
	tc.waitForState(t, "cam1", session.StateFailed)
	waitFor(t, "ハンドルの解放", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return !ok
	})

	// Failedからは開始要求で再開できる
	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("Failedからの再開に失敗: %v", err)
	}
	waitFor(t, "再attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)
}

func TestController_SnapshotDrivesReconciliation(t *testing.T) {
	tc := newTestController(t, 20*time.Millisecond)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	// サーバーが停止中と報告: 食い違いを表示しつつ楽観的に復旧へ
	tc.fetcher.set(control.StatusSnapshot{"cam1": false})
	tc.waitForState(t, "cam1", session.StateRecovering)

	rec, _ := tc.ctrl.Session("cam1")
	if !rec.ServerDisagrees {
		t.Error("食い違いフラグが立っていません")
	}

	// サーバーが稼働中と報告: フラグのみ消える
	tc.fetcher.set(control.StatusSnapshot{"cam1": true})
	waitFor(t, "食い違いフラグの解消", func() bool {
		rec, ok := tc.ctrl.Session("cam1")
		return ok && !rec.ServerDisagrees
	})

	rec, _ = tc.ctrl.Session("cam1")
	if rec.State != session.StateRecovering {
		t.Errorf("稼働報告で状態が変わりました: %s", rec.State)
	}
}

func TestController_DiscoversServerOnlyCameras(t *testing.T) {
	tc := newTestController(t, 20*time.Millisecond)

	// サーバーのみが知るカメラは通知されるが自動開始はされない
	tc.fetcher.set(control.StatusSnapshot{"cam7": true})

	waitFor(t, "未表示カメラの検出", func() bool {
		discovered := tc.ctrl.Discovered()
		return len(discovered) == 1 && discovered[0] == "cam7"
	})

	if _, ok := tc.ctrl.Session("cam7"); ok {
		t.Error("未表示カメラが自動開始されました")
	}
}

func TestController_RemoveCamera(t *testing.T) {
	tc := newTestController(t, time.Hour)

	if err := tc.ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := tc.adapter.ActiveHandle("cam1")
		return ok
	})
	tc.adapter.Inject("cam1", player.Event{Type: player.EventAttached})
	tc.waitForState(t, "cam1", session.StateLive)

	if err := tc.ctrl.RemoveCamera("cam1"); err != nil {
		t.Fatalf("RemoveCameraに失敗: %v", err)
	}

	if _, ok := tc.ctrl.Session("cam1"); ok {
		t.Error("除去後もレコードが残っています")
	}
	if _, ok := tc.adapter.ActiveHandle("cam1"); ok {
		t.Error("除去後もハンドルが残っています")
	}

	// 未登録カメラの除去はエラー
	if err := tc.ctrl.RemoveCamera("ghost"); !errors.Is(err, session.ErrUnknownCamera) {
		t.Errorf("ErrUnknownCameraが返りません: %v", err)
	}
}

func TestController_StopReleasesEverything(t *testing.T) {
	adapter := player.NewMockAdapter()
	client := &mockControl{}
	fetcher := &mockFetcher{snapshot: control.StatusSnapshot{}}

	ctrl := New(
		session.NewStore(recovery.NewPolicy()),
		adapter,
		client,
		poller.New(fetcher, time.Hour),
		reconcile.NewEngine(),
	)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("コントローラーの起動に失敗: %v", err)
	}

	if err := ctrl.StartCamera(context.Background(), "cam1"); err != nil {
		t.Fatalf("StartCameraに失敗: %v", err)
	}
	waitFor(t, "attachの解決", func() bool {
		_, ok := adapter.ActiveHandle("cam1")
		return ok
	})

	// 停止で残存ハンドルも解放される
	ctrl.Stop()

	if _, ok := adapter.ActiveHandle("cam1"); ok {
		t.Error("停止後もハンドルが残っています")
	}

	// 二重Stopは何もしない
	ctrl.Stop()
}
