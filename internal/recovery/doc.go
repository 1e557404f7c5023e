// Package recovery ストリーム障害の分類と復旧判断を担う
//
// # 責務
// - プレイヤー層で発生した生エラーの種別分類（ネットワーク・メディア・致命的）
// - 分類済みエラーと復旧試行回数からの復旧アクション決定
// - メディア復旧の回数制限（無限ループの防止）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 配信エラーから再試行・復旧・破棄のいずれを行うか判断したい
// - エラー種別ごとの復旧戦略を一箇所にまとめたい
//
// # 仕様
// - ネットワークエラー: 無条件で再読み込み（冪等で低コスト）
// - メディアエラー: エピソードごとに一度だけ復旧を試行し、
//   Liveに戻る前の二度目で打ち切り（Exhausted）
// - 致命的エラー: 再試行せず即座に破棄（Destroy）
// - 判断は純粋関数であり、状態を持たない
package recovery
