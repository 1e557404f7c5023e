// Package reconcile ローカル状態とサーバー観測状態の照合を担う
//
// # 責務
// - スナップショットとセッションストアの突き合わせ
// - 食い違いを解消するための遷移イベントの導出
// - サーバーのみが知るカメラ（未表示セッション）の検出
// - ポーリング失敗の許容判断
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 楽観的なローカル状態をサーバーの真実と定期的に照合したい
//
// # 仕様
// - Live かつサーバー報告が停止 → ServerReportsDown を導出
// - Recovering/Failed かつサーバー報告が稼働 → ServerReportsUp を導出
//   （食い違い表示の解消のみ。Liveへの強制遷移はしない）
// - スナップショットに無いカメラへの強制停止は決して行わない
//   （開始処理中のセッションを壊さない。可用性優先の非対称ポリシー）
// - 単発のポーリング失敗は無視し、連続失敗でも警告に留める
package reconcile
