package writer

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	shared "github.com/homepulse/server/pkg"
)

func TestFileDeadLetterAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead.jsonl")
	dl, err := NewFileDeadLetter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Close()

	recs := []shared.DeadLetterRecord{
		{ID: "1", Reason: "rejected_by_store", Attempts: 1, Line: "home_events state=1 1"},
		{ID: "2", Reason: "attempts_exhausted", Attempts: 5, Line: "home_events state=2 2"},
	}
	for _, rec := range recs {
		if err := dl.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("dead letter file mode = %o, want 600", perm)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []shared.DeadLetterRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec shared.DeadLetterRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(got)+1, err)
		}
		got = append(got, rec)
	}
	if len(got) != 2 {
		t.Fatalf("read %d records, want 2", len(got))
	}
	if got[0].Reason != "rejected_by_store" || got[1].Reason != "attempts_exhausted" {
		t.Errorf("records out of order: %+v", got)
	}
	if got[0].At == "" {
		t.Error("timestamp not filled in on append")
	}
}

func TestFileDeadLetterAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead.jsonl")

	for i := 0; i < 2; i++ {
		dl, err := NewFileDeadLetter(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := dl.Record(shared.DeadLetterRecord{ID: "x", Reason: "rejected_by_store"}); err != nil {
			t.Fatal(err)
		}
		dl.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("file has %d lines after two appends, want 2", lines)
	}
}
