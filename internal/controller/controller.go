package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mihari/internal/control"
	"mihari/internal/player"
	"mihari/internal/poller"
	"mihari/internal/reconcile"
	"mihari/internal/recovery"
	"mihari/internal/session"
)

// retryDelay は復旧時の再読み込みまでの待ち時間
const retryDelay = 500 * time.Millisecond

// noticeLimit は保持する操作者向け通知の件数
const noticeLimit = 20

// ControlClient は配信制御サーバーへの操作
type ControlClient interface {
	// StartStreams は指定カメラの配信開始を要求する
	StartStreams(ctx context.Context, cameras []string) (*control.StartStopResult, error)

	// StopStreams は指定カメラの配信停止を要求する
	StopStreams(ctx context.Context, cameras []string) (*control.StartStopResult, error)
}

// Controller はセッション全体の統合制御を行う
type Controller struct {
	store   *session.Store
	adapter player.Adapter
	client  ControlClient
	poller  *poller.Poller
	engine  *reconcile.Engine

	// 全イベントを直列化する単一の受信チャンネル
	events chan cameraEvent

	// 表示層向けの付帯情報
	discovered []string
	notices    []string
	infoMu     sync.RWMutex

	// カメラ単位の再試行タイマー
	timers  map[string]*time.Timer
	timerMu sync.Mutex

	// ライフサイクル
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// cameraEvent はループへ投入されるイベント
type cameraEvent struct {
	cameraID string
	event    session.Event
	reply    chan applyResult // 同期適用の場合のみ非nil
}

// applyResult は同期適用の結果
type applyResult struct {
	record session.Record
	err    error
}

// New は新しいControllerを作成する
func New(store *session.Store, adapter player.Adapter, client ControlClient, p *poller.Poller, engine *reconcile.Engine) *Controller {
	return &Controller{
		store:   store,
		adapter: adapter,
		client:  client,
		poller:  p,
		engine:  engine,
		events:  make(chan cameraEvent, 64),
		timers:  make(map[string]*time.Timer),
	}
}

// Start は制御ループとポーリングを開始する
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("コントローラーは既に開始されています")
	}
	c.started = true

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	if err := c.poller.Start(c.ctx); err != nil {
		return fmt.Errorf("ポーラーの開始に失敗: %w", err)
	}

	return nil
}

// Stop は制御ループを停止し、全リソースを解放する
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	// ポーリングタイマーを解除
	c.poller.Stop()

	// 再試行タイマーをすべて解除
	c.timerMu.Lock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.timerMu.Unlock()

	// 残存ハンドルを解放
	for _, rec := range c.store.List() {
		if rec.Handle != nil {
			_ = c.adapter.Detach(rec.Handle)
		}
	}

	c.cancel()
	c.wg.Wait()
}

// StartCamera は指定カメラの配信開始を要求する
//
// 楽観的にStartingへ遷移させてから制御サーバーへ要求し、
// 失敗した場合は要求前の状態へ巻き戻して操作者へエラーを返す。
func (c *Controller) StartCamera(ctx context.Context, cameraID string) error {
	// 楽観的な遷移（attachはループが開始する）
	if _, err := c.apply(cameraID, session.Event{Kind: session.EventRequestStart}); err != nil {
		return err
	}

	// 制御サーバーへの開始要求
	if _, err := c.client.StartStreams(ctx, []string{cameraID}); err != nil {
		// 巻き戻し: レコードを除去しハンドルを解放する
		if _, applyErr := c.apply(cameraID, session.Event{Kind: session.EventControlRejected, Err: err}); applyErr != nil {
			log.Printf("カメラ %s: 開始失敗の巻き戻しに失敗しました: %v", cameraID, applyErr)
		}
		c.addNotice(fmt.Sprintf("カメラ %s の開始に失敗しました: %v", cameraID, err))
		return err
	}

	return nil
}

// StopCamera は指定カメラの配信停止を要求する
func (c *Controller) StopCamera(ctx context.Context, cameraID string) error {
	// 楽観的な遷移（ハンドルはこの時点で解放される）
	if _, err := c.apply(cameraID, session.Event{Kind: session.EventRequestStop}); err != nil {
		return err
	}

	// 制御サーバーへの停止要求
	if _, err := c.client.StopStreams(ctx, []string{cameraID}); err != nil {
		// 巻き戻し: 再attachでセッションを稼働状態へ戻す
		if _, applyErr := c.apply(cameraID, session.Event{Kind: session.EventControlRejected, Err: err}); applyErr != nil {
			log.Printf("カメラ %s: 停止失敗の巻き戻しに失敗しました: %v", cameraID, applyErr)
		}
		c.addNotice(fmt.Sprintf("カメラ %s の停止に失敗しました: %v", cameraID, err))
		return err
	}

	// 停止の確定（レコードはストアから除去される）
	if _, err := c.apply(cameraID, session.Event{Kind: session.EventStopCompleted}); err != nil {
		return err
	}

	return nil
}

// RemoveCamera は操作者の指示でカメラをストアから除去する
func (c *Controller) RemoveCamera(cameraID string) error {
	rec, err := c.store.Remove(cameraID)
	if err != nil {
		return err
	}

	c.cancelRetryTimer(cameraID)
	if rec.Handle != nil {
		_ = c.adapter.Detach(rec.Handle)
	}

	return nil
}

// Sessions は全セッションレコードを返す
func (c *Controller) Sessions() []session.Record {
	return c.store.List()
}

// Session は指定カメラのセッションレコードを返す
func (c *Controller) Session(cameraID string) (session.Record, bool) {
	return c.store.Get(cameraID)
}

// Discovered は直近の照合で検出された未表示カメラを返す
func (c *Controller) Discovered() []string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()

	out := make([]string, len(c.discovered))
	copy(out, c.discovered)
	return out
}

// Notices は操作者向け通知の一覧を返す
func (c *Controller) Notices() []string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()

	out := make([]string, len(c.notices))
	copy(out, c.notices)
	return out
}

// apply はイベントをループへ投入し、適用結果を待つ
func (c *Controller) apply(cameraID string, ev session.Event) (session.Record, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return session.Record{}, fmt.Errorf("コントローラーが開始されていません")
	}

	reply := make(chan applyResult, 1)

	select {
	case c.events <- cameraEvent{cameraID: cameraID, event: ev, reply: reply}:
	case <-c.ctx.Done():
		return session.Record{}, fmt.Errorf("コントローラーは停止中です")
	}

	select {
	case res := <-reply:
		return res.record, res.err
	case <-c.ctx.Done():
		return session.Record{}, fmt.Errorf("コントローラーは停止中です")
	}
}

// post はイベントをループへ投入する（結果は待たない）
func (c *Controller) post(cameraID string, ev session.Event) {
	select {
	case c.events <- cameraEvent{cameraID: cameraID, event: ev}:
	case <-c.ctx.Done():
	}
}

// run は制御ループ
// ストアへの全遷移はこのゴルーチン上でのみ行われる
func (c *Controller) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ce := <-c.events:
			c.handleEvent(ce)
		case snapshot := <-c.poller.Snapshots():
			c.handleSnapshot(snapshot)
		case err := <-c.poller.Failures():
			// 単発の失敗は無視する。連続した場合のみ警告する
			if c.engine.RecordPollFailure() {
				log.Printf("ポーリングの失敗が続いています: %v", err)
			}
		}
	}
}

// handleEvent は単一イベントの遷移と副作用を処理する
func (c *Controller) handleEvent(ce cameraEvent) {
	rec, effect, err := c.store.Transition(ce.cameraID, ce.event)

	if ce.reply != nil {
		ce.reply <- applyResult{record: rec, err: err}
	}

	if err != nil {
		// 無効な遷移は記録だけして握りつぶす（状態は変更されていない）
		if !errors.Is(err, session.ErrInvalidTransition) && !errors.Is(err, session.ErrUnknownCamera) {
			log.Printf("カメラ %s: 遷移に失敗しました: %v", ce.cameraID, err)
		}

		// レコード消滅後に解決したattachはここで確実に解放する
		if ce.event.Kind == session.EventHandleAcquired && ce.event.Handle != nil {
			_ = c.adapter.Detach(ce.event.Handle)
		}
		return
	}

	c.execute(rec, effect)
}

// execute は遷移が指示した副作用を実行する
func (c *Controller) execute(rec session.Record, effect session.Effect) {
	switch effect {
	case session.EffectAttach:
		c.wg.Add(1)
		go c.doAttach(rec.CameraID)

	case session.EffectBeginPlay:
		// 実際の描画は表示層の責務。ここでは監視が継続するのみ
		log.Printf("カメラ %s: 再生可能になりました", rec.CameraID)

	case session.EffectRetryLoad:
		c.scheduleRetry(rec.CameraID, rec.Handle, false)

	case session.EffectRecoverMedia:
		c.scheduleRetry(rec.CameraID, rec.Handle, true)

	case session.EffectDetach:
		c.cancelRetryTimer(rec.CameraID)
		if rec.Handle != nil {
			_ = c.adapter.Detach(rec.Handle)
		}
	}
}

// doAttach はattachを実行し、結果をイベントとしてループへ返す
func (c *Controller) doAttach(cameraID string) {
	defer c.wg.Done()

	handle, err := c.adapter.Attach(c.ctx, cameraID)
	if err != nil {
		// attach失敗は致命的エラーとして扱う（二重attachの防御を含む）
		c.post(cameraID, session.Event{
			Kind:      session.EventPlayerError,
			ErrorKind: recovery.KindFatal,
			Err:       err,
		})
		return
	}

	// ハンドルの所有権をレコードへ移す
	c.post(cameraID, session.Event{Kind: session.EventHandleAcquired, Handle: handle})

	// ハンドルのイベント列をループへ汲み上げる
	c.wg.Add(1)
	go c.pump(cameraID, handle)
}

// pump はハンドルのイベント列をセッションイベントへ変換して流す
// イベント列はdetachによるチャンネルクローズで尽きる
func (c *Controller) pump(cameraID string, handle *player.Handle) {
	defer c.wg.Done()

	for ev := range handle.Events() {
		switch ev.Type {
		case player.EventAttached:
			c.post(cameraID, session.Event{Kind: session.EventPlayerAttached})
		case player.EventError:
			c.post(cameraID, session.Event{
				Kind:      session.EventPlayerError,
				ErrorKind: ev.Kind,
				Err:       ev.Err,
			})
		}
	}
}

// handleSnapshot はポーリング結果をストアと照合し、遷移を適用する
func (c *Controller) handleSnapshot(snapshot control.StatusSnapshot) {
	result := c.engine.Reconcile(snapshot, c.store.List())

	for _, change := range result.Changes {
		rec, effect, err := c.store.Transition(change.CameraID, session.Event{Kind: change.Event})
		if err != nil {
			// 照合とイベントの競合はあり得る。記録のみ
			log.Printf("カメラ %s: 照合遷移を適用できませんでした: %v", change.CameraID, err)
			continue
		}
		c.execute(rec, effect)
	}

	c.infoMu.Lock()
	c.discovered = result.Discovered
	c.infoMu.Unlock()
}

// scheduleRetry は再試行タイマーを設定する
// 既存のタイマーは置き換え、detach時には必ず解除される
func (c *Controller) scheduleRetry(cameraID string, handle *player.Handle, recoverMedia bool) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if existing, ok := c.timers[cameraID]; ok {
		existing.Stop()
	}

	c.timers[cameraID] = time.AfterFunc(retryDelay, func() {
		c.timerMu.Lock()
		delete(c.timers, cameraID)
		c.timerMu.Unlock()

		var err error
		if recoverMedia {
			err = c.adapter.RecoverMedia(handle)
		} else {
			err = c.adapter.RetryLoad(handle)
		}
		if err != nil {
			// ハンドルが既に解放されている場合など。記録のみ
			log.Printf("カメラ %s: 再試行の実行に失敗しました: %v", cameraID, err)
		}
	})
}

// cancelRetryTimer はカメラの再試行タイマーを解除する
func (c *Controller) cancelRetryTimer(cameraID string) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if timer, ok := c.timers[cameraID]; ok {
		timer.Stop()
		delete(c.timers, cameraID)
	}
}

// addNotice は操作者向け通知を追加する
func (c *Controller) addNotice(msg string) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	c.notices = append(c.notices, msg)
	if len(c.notices) > noticeLimit {
		c.notices = c.notices[len(c.notices)-noticeLimit:]
	}
}
