// Package controller カメラ配信セッションの統合制御を担う
//
// # 責務
// - セッションストア・プレイヤーアダプター・復旧ポリシー・
//   ポーラー・照合エンジンの結線
// - 全イベントを単一のループへ直列化（単一書き込み者の保証）
// - 遷移に伴う副作用（attach/detach・再読み込み・復旧）の実行
// - 楽観的な開始・停止と、制御リクエスト失敗時の巻き戻し
// - 再試行タイマーのカメラ単位の管理（detach時の確実な解除）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 操作者のボタン操作に相当する開始・停止を実行したい
// - セッション全体のライフサイクル（初期化・破棄）を管理したい
//
// # 仕様
// - 同一カメラのイベントは到着順に処理される。カメラ間の順序は保証しない
// - プレイヤーエラーとポーリング失敗はループ内で処理され、
//   呼び出し側へは伝播しない。操作者へ届くのは制御リクエスト失敗のみ
// - 停止要求は進行中のattach/復旧に勝つ（解放は全離脱経路で必ず行う）
// - 致命的エラーでセッションがFailedになっても制御ループは止まらず、
//   直後の再開始要求を受け付けられる
package controller
