package transcode_test

import (
	"errors"
	"testing"
	"time"

	"lms-server/internal/domain/transcode"
)

const testSecret = "whsec_test"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"video.asset.ready"}`)
	now := time.Unix(1700000000, 0)

	t.Run("accepts valid signature", func(t *testing.T) {
		header := transcode.Sign(body, testSecret, now)
		if err := transcode.VerifySignature(header, body, testSecret, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("accepts signature within tolerance", func(t *testing.T) {
		header := transcode.Sign(body, testSecret, now.Add(-4*time.Minute))
		if err := transcode.VerifySignature(header, body, testSecret, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	tests := []struct {
		name   string
		header string
		body   []byte
		secret string
		at     time.Time
	}{
		{"wrong secret", transcode.Sign(body, "whsec_other", now), body, testSecret, now},
		{"tampered body", transcode.Sign(body, testSecret, now), []byte(`{"id":"evt_2"}`), testSecret, now},
		{"stale timestamp", transcode.Sign(body, testSecret, now.Add(-6 * time.Minute)), body, testSecret, now},
		{"future timestamp", transcode.Sign(body, testSecret, now.Add(6 * time.Minute)), body, testSecret, now},
		{"missing secret", transcode.Sign(body, testSecret, now), body, "", now},
		{"malformed header", "v1=abcdef", body, testSecret, now},
		{"empty header", "", body, testSecret, now},
		{"non-numeric timestamp", "t=yesterday,v1=abcdef", body, testSecret, now},
		{"non-hex signature", "t=1700000000,v1=zzzz", body, testSecret, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transcode.VerifySignature(tt.header, tt.body, tt.secret, tt.at)
			if !errors.Is(err, transcode.ErrUnverified) {
				t.Errorf("expected ErrUnverified, got %v", err)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	t.Run("valid event", func(t *testing.T) {
		ev, err := transcode.ParseEvent([]byte(`{
			"id": "evt_1",
			"type": "video.asset.ready",
			"data": {"asset_id": "asset_1", "playback_id": "pb_1"}
		}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.ID != "evt_1" || ev.Type != transcode.EventAssetReady {
			t.Errorf("unexpected envelope: %+v", ev)
		}
		if ev.Data.AssetID != "asset_1" || ev.Data.PlaybackID != "pb_1" {
			t.Errorf("unexpected data: %+v", ev.Data)
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not-json"},
		{"missing id", `{"type":"video.asset.ready"}`},
		{"missing type", `{"id":"evt_1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := transcode.ParseEvent([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
