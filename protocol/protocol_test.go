package protocol

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCommandTableIDsMatchIndex(t *testing.T) {
	for i, c := range CommandTable {
		if int(c.ID) != i {
			t.Errorf("%s has ID %d at index %d", c.Name, c.ID, i)
		}
	}
	if !CommandTable[RespStatus].Response {
		t.Error("status must be marked as a response")
	}
}

func TestCommandName(t *testing.T) {
	if CommandName(CmdSetMaxSpeed) != "set_max_speed" {
		t.Errorf("CommandName(%d) = %q", CmdSetMaxSpeed, CommandName(CmdSetMaxSpeed))
	}
	if CommandName(999) != "" {
		t.Error("unknown ID should have an empty name")
	}
}

func TestDictionary(t *testing.T) {
	dict := Dictionary()
	lines := strings.Split(strings.TrimSpace(dict), "\n")
	if len(lines) != len(CommandTable) {
		t.Fatalf("expected %d lines, got %d", len(CommandTable), len(lines))
	}
	if lines[0] != "move_to pos=%i" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[CmdStop] != "stop" {
		t.Errorf("stop line = %q", lines[CmdStop])
	}
}

func TestStatusEncoding(t *testing.T) {
	want := Status{Position: -1200, Target: 400, MSpeed: 1000000, Phase: 3, Flags: StatusEnabled | StatusClockwise}
	out := NewScratchOutput()
	EncodeStatus(out, want)

	data := out.Result()
	got, err := DecodeStatus(&data)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	short := out.Result()[:2]
	if _, err := DecodeStatus(&short); err == nil {
		t.Error("expected error for truncated status")
	}
}
