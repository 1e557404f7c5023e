// Package control 配信制御サーバーとのHTTP通信を担う
//
// # 責務
// - 配信の開始・停止リクエストの送信
// - サーバー観測状態（/status）の取得
// - 録画一覧とホストリソース情報の取得
// - レスポンススキーマの検証（境界での型付け）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 制御サーバーのHTTP契約を呼び出したい
// - ゆるいJSONレスポンスを検証済みの型へ変換したい
//
// # 仕様
// - 非2xxレスポンスとスキーマ不一致はRequestErrorへ変換する
//   （未定義フィールド由来の異常を状態機械へ持ち込まない）
// - /statusのスナップショットは全量置換であり、フィールド単位の
//   マージは行わない
// - サーバー側のカメラプロセス管理・リソース計測はこの契約の
//   向こう側にあり、本モジュールは関与しない
package control
