package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient はテストサーバーに向けたClientを作成する
func newTestClient(ts *httptest.Server) *Client {
	return NewClient(ts.URL, 5*time.Second)
}

func TestClient_Status(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active_streams":{"cam1":{"main":true},"cam2":{"main":false}}}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	snapshot, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Statusに失敗: %v", err)
	}

	if len(snapshot) != 2 {
		t.Fatalf("スナップショットの件数 = %d, want 2", len(snapshot))
	}
	if !snapshot["cam1"] {
		t.Error("cam1が稼働中になっていません")
	}
	if snapshot["cam2"] {
		t.Error("cam2が稼働中になっています")
	}
}

func TestClient_StatusSchemaViolation(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"active_streamsの欠落", `{"streams":{}}`},
		{"mainフラグの欠落", `{"active_streams":{"cam1":{}}}`},
		{"JSONとして不正", `{{{`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			client := newTestClient(ts)

			_, err := client.Status(context.Background())
			if err == nil {
				t.Fatal("スキーマ不一致がエラーになりません")
			}

			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Errorf("RequestErrorが返りません: %v", err)
			}
		})
	}
}

func TestClient_StartStreams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start-streams" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("予期しないメソッド: %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","started":["cam1"]}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	result, err := client.StartStreams(context.Background(), []string{"cam1"})
	if err != nil {
		t.Fatalf("StartStreamsに失敗: %v", err)
	}
	if len(result.Started) != 1 || result.Started[0] != "cam1" {
		t.Errorf("開始されたカメラ = %v", result.Started)
	}
}

func TestClient_StartStreamsEmptyCameras(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("空のカメラ指定でリクエストが送信されました")
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := newTestClient(ts)

	if _, err := client.StartStreams(context.Background(), nil); err == nil {
		t.Fatal("空のカメラ指定がエラーになりません")
	}
}

func TestClient_StopStreamsNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"配信エンジンが応答しません"}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	_, err := client.StopStreams(context.Background(), []string{"cam1"})
	if err == nil {
		t.Fatal("非2xxがエラーになりません")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("RequestErrorが返りません: %v", err)
	}
	if reqErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", reqErr.StatusCode)
	}
	if reqErr.Message != "配信エンジンが応答しません" {
		t.Errorf("本文のメッセージが取り出されていません: %s", reqErr.Message)
	}
}

func TestClient_StartStreamsServerReportsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 2xxでもstatusがerrorなら失敗として扱う
		_, _ = w.Write([]byte(`{"status":"error","errors":{"cam1":"カメラが存在しません"}}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	_, err := client.StartStreams(context.Background(), []string{"cam1"})
	if err == nil {
		t.Fatal("status=errorがエラーになりません")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("RequestErrorが返りません: %v", err)
	}
	if reqErr.Details["cam1"] != "カメラが存在しません" {
		t.Errorf("カメラ別の失敗詳細が伝わっていません: %v", reqErr.Details)
	}
}

func TestClient_Recordings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recordings" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"recordings":["cam1_20260823_120000.mp4"]}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	recordings, err := client.Recordings(context.Background())
	if err != nil {
		t.Fatalf("Recordingsに失敗: %v", err)
	}
	if len(recordings) != 1 || recordings[0] != "cam1_20260823_120000.mp4" {
		t.Errorf("録画一覧 = %v", recordings)
	}
}

func TestClient_SystemResources(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system-resources" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"cpu":{"percent_used":12.5,"core_count":8},"memory":{"percent_used":40.0},"estimated_capacity":{"720p":6}}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	resources, err := client.SystemResources(context.Background())
	if err != nil {
		t.Fatalf("SystemResourcesに失敗: %v", err)
	}
	if resources.CPU.PercentUsed != 12.5 {
		t.Errorf("CPU使用率 = %f", resources.CPU.PercentUsed)
	}
	if resources.EstimatedCapacity["720p"] != 6 {
		t.Errorf("推定収容力 = %v", resources.EstimatedCapacity)
	}
}

func TestClient_ConnectionFailure(t *testing.T) {
	// 接続先が存在しない場合はRequestErrorで包んで返す
	client := NewClient("http://127.0.0.1:1", time.Second)

	_, err := client.Status(context.Background())
	if err == nil {
		t.Fatal("接続失敗がエラーになりません")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Errorf("RequestErrorが返りません: %v", err)
	}
}
