// Package session カメラ配信セッションの状態管理を担う
//
// # 責務
// - カメラごとのセッションレコードの保持（唯一の信頼できる状態源）
// - 状態遷移表に基づくセッション状態機械の実行
// - 遷移に伴う副作用（attach・再読み込み・解放など）の指示
// - プレイヤーハンドルの所有権管理
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - セッション状態を参照・遷移させたい（遷移はTransitionのみが行う）
// - 楽観的なUI状態とサーバー観測状態の照合結果を反映したい
//
// # 仕様
// - 状態: Idle / Starting / Live / Recovering / Stopping / Stopped / Failed
// - 無効な(状態, イベント)の組はErrInvalidTransitionで拒否し、
//   レコードを一切変更しない（部分的な変更は起きない）
// - ハンドルは state ∈ {Starting, Live, Recovering} の間のみレコードが所有する
// - RetryCountとMediaRetriesはLiveへの遷移のたびに0へリセットされる
// - Stoppedに達したレコードはストアから除去される
// - ストア自身はI/Oを行わず、副作用はEffectとして呼び出し側に返す
package session
