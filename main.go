package main

import (
	"context"
	"log"
	"os"

	"mihari/internal/config"
	"mihari/internal/control"
	"mihari/internal/controller"
	"mihari/internal/player"
	"mihari/internal/poller"
	"mihari/internal/reconcile"
	"mihari/internal/recovery"
	"mihari/internal/server"
	"mihari/internal/session"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コンテキストを作成
	ctx := context.Background()

	// 構成要素を組み立てる
	policy := recovery.NewPolicy()
	store := session.NewStore(policy)
	adapter := player.NewHLSAdapter(player.Config{
		BaseURL:       cfg.Player.HLSBaseURL,
		ProbeInterval: cfg.Player.ProbeInterval,
		MaxErrors:     cfg.Player.MaxErrors,
	}, policy)
	client := control.NewClient(cfg.Control.BaseURL, cfg.Control.RequestTimeout)
	ctrl := controller.New(store, adapter, client, poller.New(client, cfg.Poll.Interval), reconcile.NewEngine())

	// コントローラーを起動
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("コントローラーの起動に失敗しました: %v", err)
	}
	defer func() {
		ctrl.Stop()
		adapter.Close()
	}()

	// サーバーを起動
	srv := server.New(cfg, ctrl, client)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
		os.Exit(1)
	}
}
