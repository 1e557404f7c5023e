// Package poller サーバー観測状態の定期取得を担う
//
// # 責務
// - 固定間隔での /status 取得
// - スナップショットの送出（常に全量置換）
// - 取得失敗の通知（状態は一切変更しない）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - サーバー側の観測状態を周期的に取り込みたい
//
// # 仕様
// - ポーリングタイマーはプロセス全体で単一であり、
//   Startで武装、Stopで解除される（二重武装はエラー）
// - 消費が追いつかない場合、古いスナップショットは新しいもので
//   置き換えられる（マージはしない）
// - 取得失敗はレコードを直接変更せず、照合エンジンへの報告に留める
package poller
