package audit

import (
	"strings"
	"testing"
	"time"
)

func TestNextID_Sequence(t *testing.T) {
	t.Parallel()

	var log []Event
	for i := 1; i <= 3; i++ {
		id := NextID("SHM-19-0042", log)
		want := "SHM-19-0042-e" + string(rune('0'+i))
		if id != want {
			t.Fatalf("NextID = %q, want %q", id, want)
		}
		var err error
		log, err = Append("SHM-19-0042", log, Event{ID: id, Action: ActionSafetyNote})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestAppend_RejectsOutOfSequence(t *testing.T) {
	t.Parallel()

	log := []Event{{ID: "p-e1"}}
	tests := []string{"p-e1", "p-e3", "q-e2", ""}
	for _, id := range tests {
		got, err := Append("p", log, Event{ID: id})
		if err == nil {
			t.Errorf("Append(%q) succeeded, want error", id)
		}
		if len(got) != 1 {
			t.Errorf("Append(%q) changed log length to %d", id, len(got))
		}
	}
}

func TestAppend_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	base := make([]Event, 1, 8)
	base[0] = Event{ID: "p-e1"}

	a, err := Append("p", base, Event{ID: "p-e2", Action: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Append("p", base, Event{ID: "p-e2", Action: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if a[1].Action != "a" || b[1].Action != "b" {
		t.Errorf("appends share backing storage: a=%q b=%q", a[1].Action, b[1].Action)
	}
}

func TestCopy(t *testing.T) {
	t.Parallel()

	if got := Copy(nil); got == nil || len(got) != 0 {
		t.Errorf("Copy(nil) = %#v, want empty non-nil slice", got)
	}

	orig := []Event{{ID: "p-e1", Actor: "jdoe", Timestamp: time.Unix(0, 0)}}
	c := Copy(orig)
	c[0].Actor = "mallory"
	if orig[0].Actor != "jdoe" {
		t.Error("Copy shares storage with original")
	}
}

func TestPromotedAction(t *testing.T) {
	t.Parallel()

	got := PromotedAction("silent")
	if got != "promoted_to_silent" {
		t.Errorf("PromotedAction = %q", got)
	}
	if !strings.HasPrefix(got, promotedPrefix) {
		t.Error("missing prefix")
	}
}
