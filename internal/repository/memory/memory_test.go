package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
)

func TestQueryOrderingAndClear(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, r := range []types.Reading{
		{DeviceID: "B", Timestamp: t0},
		{DeviceID: "A", Timestamp: t0.Add(time.Minute)},
		{DeviceID: "A", Timestamp: t0},
	} {
		r := r
		if err := s.AppendReading(ctx, &r); err != nil {
			t.Fatalf("AppendReading: %v", err)
		}
		if r.ID == 0 {
			t.Fatal("AppendReading did not assign an ID")
		}
	}

	all, err := s.QueryReadings(ctx, "")
	if err != nil {
		t.Fatalf("QueryReadings: %v", err)
	}
	want := []int64{3, 2, 1}
	for i, r := range all {
		if r.ID != want[i] {
			t.Errorf("position %d: got ID %d, want %d", i, r.ID, want[i])
		}
	}

	if err := s.PutModel(ctx, &types.AnomalyModel{Name: types.PrimaryModelName, Data: []byte{1}}); err != nil {
		t.Fatalf("PutModel: %v", err)
	}
	if err := s.PutProfile(ctx, thresholds.DefaultProfile("A")); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}

	if err := s.Clear(ctx, "A"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if n, _ := s.CountReadings(ctx); n != 1 {
		t.Errorf("CountReadings after clear = %d, want 1", n)
	}
	devices, _ := s.Devices(ctx)
	if len(devices) != 1 || devices[0] != "B" {
		t.Errorf("devices after clear = %v, want [B]", devices)
	}
	if m, _ := s.LatestModel(ctx); m != nil {
		t.Error("model should be cleared")
	}
	if _, ok, _ := s.GetProfile(ctx, "A"); !ok {
		t.Error("threshold profiles are operator configuration and survive a reset")
	}
}

func TestModelSlotIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := &types.AnomalyModel{Name: types.PrimaryModelName, Data: []byte{1, 2, 3}, SampleCount: 20}
	if err := s.PutModel(ctx, m); err != nil {
		t.Fatalf("PutModel: %v", err)
	}
	m.Data[0] = 9

	got, err := s.LatestModel(ctx)
	if err != nil {
		t.Fatalf("LatestModel: %v", err)
	}
	if got.Data[0] != 1 {
		t.Error("stored model aliased the caller's buffer")
	}
}
