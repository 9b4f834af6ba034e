package dumper

import (
	"bytes"
	"log"
	"path/filepath"
	"strings"
	"testing"
)

func feedAll(t *testing.T, p *Parser, lines []string) ([]Event, bool) {
	t.Helper()
	var events []Event
	for _, line := range lines {
		ev, terminal := p.Feed(line)
		if ev != nil {
			events = append(events, *ev)
		}
		if terminal {
			return events, true
		}
	}
	return events, false
}

func TestFeedStatusBlock(t *testing.T) {
	p := NewParser("output", log.Default())

	events, terminal := feedAll(t, p, []string{
		"STATUS:",
		"Downloading payload",
		"25% done",
		"STATUS_END",
	})
	if terminal {
		t.Fatalf("status block must not terminate the stream")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != EventStatus {
		t.Fatalf("unexpected kind: %v", events[0].Kind)
	}
	if events[0].Text != "Downloading payload\n25% done" {
		t.Fatalf("unexpected text: %q", events[0].Text)
	}
}

func TestFeedErrorBlockTerminates(t *testing.T) {
	p := NewParser("output", log.Default())

	events, terminal := feedAll(t, p, []string{
		"ERROR:",
		"checksum mismatch",
		"ERROR_END",
		"STATUS:",
		"should never be seen",
		"STATUS_END",
	})
	if !terminal {
		t.Fatalf("error block must terminate the stream")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != EventError || events[0].Text != "checksum mismatch" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestFeedArtifactKeepsStreamOpen(t *testing.T) {
	p := NewParser("output", log.Default())

	events, terminal := feedAll(t, p, []string{
		"FILE: " + filepath.Join("output", "boot.zip"),
		"STATUS:",
		"upload pending",
		"STATUS_END",
	})
	if terminal {
		t.Fatalf("artifact must not terminate the stream")
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventArtifact {
		t.Fatalf("unexpected kind: %v", events[0].Kind)
	}
	if events[0].Name != "boot.zip" {
		t.Fatalf("unexpected artifact name: %q", events[0].Name)
	}
}

func TestArtifactNameStripsPartitionExtension(t *testing.T) {
	p := NewParser("output", log.Default())

	ev, _ := p.Feed("FILE: " + filepath.Join("output", "partitions", "vbmeta.img"))
	if ev == nil || ev.Kind != EventArtifact {
		t.Fatalf("expected artifact event, got %+v", ev)
	}
	if ev.Name != "vbmeta" {
		t.Fatalf("expected extension stripped, got %q", ev.Name)
	}
}

func TestFeedDiagnosticLineProducesNoEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser("output", log.New(&buf, "", 0))

	ev, terminal := p.Feed("some random progress noise")
	if ev != nil || terminal {
		t.Fatalf("diagnostic line must not produce an event")
	}
	if !strings.Contains(buf.String(), "some random progress noise") {
		t.Fatalf("diagnostic line should be logged, got %q", buf.String())
	}
}

func TestFeedBlankLineInsideBlockKept(t *testing.T) {
	p := NewParser("output", log.Default())

	events, _ := feedAll(t, p, []string{
		"STATUS:",
		"line one",
		"",
		"line two",
		"STATUS_END",
	})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Text != "line one\n\nline two" {
		t.Fatalf("unexpected text: %q", events[0].Text)
	}
}
