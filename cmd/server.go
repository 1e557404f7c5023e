// Package main はMihariサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
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
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		controlURL = flag.String("control-url", "", "配信制御サーバーのURL (デフォルト: http://127.0.0.1:5000)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Mihari")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *controlURL != "" {
		cfg.Control.BaseURL = *controlURL
		cfg.Player.HLSBaseURL = *controlURL
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
	log.Printf("Mihari サーバーを起動します: %s", cfg.ServerAddress())
	srv := server.New(cfg, ctrl, client)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
