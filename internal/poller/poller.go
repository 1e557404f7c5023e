package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mihari/internal/control"
)

// StatusFetcher はサーバー観測状態の取得元
type StatusFetcher interface {
	// Status はサーバー観測状態のスナップショットを取得する
	Status(ctx context.Context) (control.StatusSnapshot, error)
}

// Poller は固定間隔でサーバー観測状態を取得する
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration

	snapshots chan control.StatusSnapshot
	failures  chan error

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New は新しいPollerを作成する
func New(fetcher StatusFetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}

	return &Poller{
		fetcher:   fetcher,
		interval:  interval,
		snapshots: make(chan control.StatusSnapshot, 1),
		failures:  make(chan error, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start はポーリングを開始する
// タイマーはプロセス全体で単一であり、二重武装はエラーとなる
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("ポーラーは既に開始されています")
	}
	p.started = true

	p.wg.Add(1)
	go p.run(ctx)

	return nil
}

// Stop はポーリングを停止しゴルーチンの終了を待つ
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// Snapshots は取得したスナップショットの受信チャンネルを返す
func (p *Poller) Snapshots() <-chan control.StatusSnapshot {
	return p.snapshots
}

// Failures は取得失敗の通知チャンネルを返す
func (p *Poller) Failures() <-chan error {
	return p.failures
}

// run はポーリングループ
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll は一回分の取得を実行する
func (p *Poller) poll(ctx context.Context) {
	snapshot, err := p.fetcher.Status(ctx)
	if err != nil {
		// 失敗は通知のみ。レコードには触れない
		p.replaceFailure(err)
		return
	}

	p.replaceSnapshot(snapshot)
}

// replaceSnapshot は未消費の古いスナップショットを捨てて置き換える
func (p *Poller) replaceSnapshot(snapshot control.StatusSnapshot) {
	select {
	case <-p.snapshots:
	default:
	}

	select {
	case p.snapshots <- snapshot:
	default:
	}
}

// replaceFailure は未消費の古い失敗通知を捨てて置き換える
func (p *Poller) replaceFailure(err error) {
	select {
	case <-p.failures:
	default:
	}

	select {
	case p.failures <- err:
	default:
	}
}
