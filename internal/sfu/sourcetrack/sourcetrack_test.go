package sourcetrack

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaysfu/core/internal/sfu/busgw"
)

func TestTableAddNormalizesSIPSuffix(t *testing.T) {
	tbl := New()
	defer tbl.Close()

	tbl.Add("cam-1|SIP", "v_user-1")

	if _, ok := tbl.Get("cam-1|SIP"); !ok {
		t.Fatal("Get(cam-1|SIP) ok = false, want true")
	}
	src, ok := tbl.Get("cam-1")
	if !ok || src.UserID != "v_user-1" {
		t.Fatalf("Get(cam-1) = %+v, %v, want v_user-1, true", src, ok)
	}
}

func TestTableAddRejectsNonReservedUserID(t *testing.T) {
	tbl := New()
	defer tbl.Close()

	tbl.Add("cam-1", "user-1")

	if _, ok := tbl.Get("cam-1"); ok {
		t.Fatal("Get(cam-1) ok = true for a non-v_ userId, want false")
	}
}

func TestTableRemove(t *testing.T) {
	tbl := New()
	defer tbl.Close()

	tbl.Add("cam-1", "v_user-1")
	tbl.Remove("cam-1")

	if _, ok := tbl.Get("cam-1"); ok {
		t.Fatal("Get(cam-1) ok = true after Remove, want false")
	}
	if got := tbl.ForUser("v_user-1"); len(got) != 0 {
		t.Fatalf("ForUser(v_user-1) returned %d sources after Remove, want 0", len(got))
	}
}

func TestTableForUser(t *testing.T) {
	tbl := New()
	defer tbl.Close()

	tbl.Add("cam-1", "v_user-1")
	tbl.Add("cam-2", "v_user-1")
	tbl.Add("cam-3", "v_user-2")

	got := tbl.ForUser("v_user-1")
	if len(got) != 2 {
		t.Fatalf("ForUser(v_user-1) returned %d sources, want 2", len(got))
	}
}

func TestWatchAddAndRemove(t *testing.T) {
	bus := busgw.NewFakeGateway()
	tbl := New()
	defer tbl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, bus, tbl)

	addedPayload, _ := json.Marshal(busgw.ExternalSourcePayload{StreamName: "cam-9", UserID: "v_user-9"})
	bus.Emit(busgw.Event{Type: busgw.EventExternalSourceAdded, MeetingID: "meeting-1", Payload: addedPayload})

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := tbl.Get("cam-9"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for Watch to add source")
		}
		time.Sleep(time.Millisecond)
	}

	goneEvt := busgw.Event{Type: busgw.EventExternalSourceGone, MeetingID: "meeting-1", Payload: addedPayload}
	bus.Emit(goneEvt)

	deadline = time.Now().Add(time.Second)
	for {
		if _, ok := tbl.Get("cam-9"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for Watch to remove source")
		}
		time.Sleep(time.Millisecond)
	}
}
