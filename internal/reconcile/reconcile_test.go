package reconcile

import (
	"testing"

	"mihari/internal/control"
	"mihari/internal/session"
)

func TestEngine_LiveButServerReportsDown(t *testing.T) {
	engine := NewEngine()

	snapshot := control.StatusSnapshot{"cam1": false}
	records := []session.Record{{CameraID: "cam1", State: session.StateLive}}

	result := engine.Reconcile(snapshot, records)

	if len(result.Changes) != 1 {
		t.Fatalf("遷移の件数 = %d, want 1", len(result.Changes))
	}
	if result.Changes[0].CameraID != "cam1" || result.Changes[0].Event != session.EventServerReportsDown {
		t.Errorf("遷移 = %+v", result.Changes[0])
	}
}

func TestEngine_RecoveringAndServerReportsUp(t *testing.T) {
	engine := NewEngine()

	snapshot := control.StatusSnapshot{"cam1": true, "cam2": true}
	records := []session.Record{
		{CameraID: "cam1", State: session.StateRecovering},
		{CameraID: "cam2", State: session.StateFailed},
	}

	result := engine.Reconcile(snapshot, records)

	// 食い違い表示の解消のみ。Liveへの強制遷移イベントは導出されない
	if len(result.Changes) != 2 {
		t.Fatalf("遷移の件数 = %d, want 2", len(result.Changes))
	}
	for _, change := range result.Changes {
		if change.Event != session.EventServerReportsUp {
			t.Errorf("遷移 = %+v", change)
		}
	}
}

func TestEngine_AgreementYieldsNoChanges(t *testing.T) {
	engine := NewEngine()

	snapshot := control.StatusSnapshot{"cam1": true, "cam2": false}
	records := []session.Record{
		{CameraID: "cam1", State: session.StateLive},
		{CameraID: "cam2", State: session.StateRecovering},
	}

	if result := engine.Reconcile(snapshot, records); len(result.Changes) != 0 {
		t.Errorf("一致している状態から遷移が導出されました: %+v", result.Changes)
	}
}

func TestEngine_AbsentFromSnapshotIsNeverForcedDown(t *testing.T) {
	engine := NewEngine()

	// 開始直後でサーバー側に未反映のカメラを強制停止しない
	snapshot := control.StatusSnapshot{}
	records := []session.Record{
		{CameraID: "cam1", State: session.StateLive},
		{CameraID: "cam2", State: session.StateStarting},
	}

	result := engine.Reconcile(snapshot, records)

	if len(result.Changes) != 0 {
		t.Errorf("スナップショットに無いカメラへ遷移が導出されました: %+v", result.Changes)
	}
	if len(result.Discovered) != 0 {
		t.Errorf("未表示カメラ = %v", result.Discovered)
	}
}

func TestEngine_DiscoversUnknownCameras(t *testing.T) {
	engine := NewEngine()

	snapshot := control.StatusSnapshot{"cam9": true, "cam3": true, "cam1": true}
	records := []session.Record{{CameraID: "cam1", State: session.StateLive}}

	result := engine.Reconcile(snapshot, records)

	// ストアに無いサーバー既知のカメラはID順で報告される（自動開始はしない）
	if len(result.Discovered) != 2 {
		t.Fatalf("未表示カメラの件数 = %d, want 2", len(result.Discovered))
	}
	if result.Discovered[0] != "cam3" || result.Discovered[1] != "cam9" {
		t.Errorf("未表示カメラ = %v", result.Discovered)
	}
}

func TestEngine_PollFailureThreshold(t *testing.T) {
	engine := NewEngine()

	// 閾値に達した一回だけtrueを返す
	if engine.RecordPollFailure() {
		t.Error("1回目でtrueが返りました")
	}
	if engine.RecordPollFailure() {
		t.Error("2回目でtrueが返りました")
	}
	if !engine.RecordPollFailure() {
		t.Error("3回目でtrueが返りません")
	}
	if engine.RecordPollFailure() {
		t.Error("4回目でtrueが返りました")
	}

	// スナップショットの到着で連続回数はリセットされる
	engine.Reconcile(control.StatusSnapshot{}, nil)

	if engine.RecordPollFailure() {
		t.Error("リセット後の1回目でtrueが返りました")
	}
	if engine.RecordPollFailure() {
		t.Error("リセット後の2回目でtrueが返りました")
	}
	if !engine.RecordPollFailure() {
		t.Error("リセット後の3回目でtrueが返りません")
	}
}
