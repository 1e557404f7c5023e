// Package player アダプティブストリーミングエンジンのラップを担う
//
// # 責務
// - カメラIDからのマニフェストURL導出（再試行間で不変）
// - プレイヤーハンドルの取得（attach）と解放（detach）
// - プレイリスト監視による分類済みエラーイベントの生成
// - 再読み込み（RetryLoad）とメディア復旧（RecoverMedia）の実行
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラのHLS配信を監視してセッション制御にイベントを流したい
// - 配信エンジンの実装詳細をセッション状態機械から隔離したい
//
// # 仕様
// - Adapter: attach/detach/再読み込み/メディア復旧のインターフェース
// - HLSAdapter: gohlslib によるプレイリスト取得・解析の実装
// - Handle: attachごとに発行される監視単位。イベント列はハンドルの
//   生存期間に対応し、再attachで新しい列が始まる
// - attachはカメラごとに冪等（二重attachはErrAlreadyAttached）
// - detachは何度呼んでも安全（二度目以降はno-op）
// - MockAdapter: テスト用のモック実装
package player
