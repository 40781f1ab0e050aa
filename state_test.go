package vybe

import "testing"

func TestRunStateSummaryIsSetOnce(t *testing.T) {
	s := NewRunState(nil)
	if s.SetSummary("") {
		t.Error("empty summary should be rejected")
	}
	if !s.SetSummary("first") {
		t.Fatal("first summary rejected")
	}
	if s.SetSummary("second") {
		t.Error("summary overwritten")
	}
	if s.Summary() != "first" {
		t.Errorf("summary = %q", s.Summary())
	}
}

func TestRunStateCopies(t *testing.T) {
	seed := []ChatMessage{UserMessage("hi")}
	s := NewRunState(seed)
	seed[0].Content = "mutated"
	if s.History()[0].Content != "hi" {
		t.Error("history aliases the seed slice")
	}

	files := map[string]string{"a": "1"}
	s.ReplaceFiles(files)
	files["a"] = "2"
	got := s.Files()
	got["b"] = "3"
	if f := s.Files(); f["a"] != "1" || len(f) != 1 {
		t.Errorf("files leaked mutations: %v", f)
	}

	s.AppendHistory(AssistantMessage("ok"))
	if len(s.History()) != 2 {
		t.Errorf("history len = %d", len(s.History()))
	}
}
