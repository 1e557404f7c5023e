// Package server 操作卓向けHTTP APIの提供を担う
//
// # 責務
// - HTTPサーバーの起動と管理
// - セッション状態・検出カメラ・通知の提供（表示層の参照先）
// - 配信の開始・停止操作の受け付け
// - 録画一覧・ホストリソース情報の中継
//
// # 仕様
// - ginを使用
// - グレースフルシャットダウンに対応
// - 制御リクエストの失敗は502とメッセージで操作者へ返す
//   （楽観状態の巻き戻しはコントローラーが済ませている）
// - HTML/CSS/アセットの配信は扱わない（表示層は外部）
package server
