package generation

import (
	"context"
	"testing"
)

// scriptedClassifier replays a fixed vote sequence.
type scriptedClassifier struct {
	votes []Vote
	next  int
}

func (s *scriptedClassifier) Classify(_ context.Context, _ string) Vote {
	v := s.votes[s.next%len(s.votes)]
	s.next++
	return v
}

func sampleItems(n int) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{ID: "s", Seq: i, Content: "sample"}
	}
	return items
}

func TestRoute_PicksWinnerByAverageOfItsVotes(t *testing.T) {
	r := NewRouter()
	r.Classifier = &scriptedClassifier{votes: []Vote{
		{TaskType: "math", Confidence: 0.9},
		{TaskType: "math", Confidence: 0.8},
		{TaskType: "code", Confidence: 0.6},
		{TaskType: "math", Confidence: 0.7},
		{TaskType: TaskUnknown, Confidence: 0.0},
	}}
	r.Threshold = 0.8

	got := r.Route(context.Background(), sampleItems(5), DefaultPrompt())
	if got.TaskType != "math" {
		t.Fatalf("routed to %q, want math", got.TaskType)
	}
}

func TestRoute_BelowThresholdKeepsDefault(t *testing.T) {
	r := NewRouter()
	r.Classifier = &scriptedClassifier{votes: []Vote{
		{TaskType: "code", Confidence: 0.3},
		{TaskType: "code", Confidence: 0.4},
	}}
	r.Threshold = 0.6

	fallback := DefaultPrompt()
	got := r.Route(context.Background(), sampleItems(2), fallback)
	if got.TaskType != fallback.TaskType {
		t.Fatalf("routed to %q, want default %q", got.TaskType, fallback.TaskType)
	}
}

func TestRoute_AllUnknownKeepsDefault(t *testing.T) {
	r := NewRouter()
	r.Classifier = &scriptedClassifier{votes: []Vote{{TaskType: TaskUnknown}}}

	fallback := DefaultPrompt()
	if got := r.Route(context.Background(), sampleItems(3), fallback); got.TaskType != fallback.TaskType {
		t.Fatalf("routed to %q, want default", got.TaskType)
	}
}

func TestTally_AverageIsOverWinningVotesOnly(t *testing.T) {
	winner, avg := tally([]Vote{
		{TaskType: "math", Confidence: 0.9},
		{TaskType: "math", Confidence: 0.8},
		{TaskType: "code", Confidence: 0.6},
		{TaskType: "math", Confidence: 0.7},
		{TaskType: TaskUnknown, Confidence: 0.0},
	})
	if winner != "math" {
		t.Fatalf("winner = %q, want math", winner)
	}
	if diff := avg - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg = %v, want 0.8", avg)
	}
}

func TestHeuristicClassifier_RecognizesTaskShapes(t *testing.T) {
	h := HeuristicClassifier{}
	cases := []struct {
		content string
		want    string
	}{
		{"Solve the equation 2x + 3 = 7 for x", "math"},
		{"Implement a function to reverse a linked list; return the new head", "code"},
		{"What is the capital of France?", "qa"},
	}
	for _, tc := range cases {
		v := h.Classify(context.Background(), tc.content)
		if v.TaskType != tc.want {
			t.Errorf("Classify(%q) = %q (%.1f), want %q", tc.content, v.TaskType, v.Confidence, tc.want)
		}
	}
}

func TestHeuristicClassifier_UnknownForPlainText(t *testing.T) {
	v := HeuristicClassifier{}.Classify(context.Background(), "a quiet walk in the park")
	if v.TaskType != TaskUnknown {
		t.Errorf("got %q, want unknown", v.TaskType)
	}
}

func TestRenderUser_SubstitutesRecordFields(t *testing.T) {
	p := PromptConfig{UserTemplate: "Q: {{question}} (topic: {{topic}})"}
	item := WorkItem{
		Content: "ignored",
		Row: &RowPayload{
			Kind:   RowKindRecord,
			Record: map[string]any{"question": "why?", "topic": "physics"},
		},
	}
	got := p.RenderUser(item)
	if got != "Q: why? (topic: physics)" {
		t.Errorf("rendered %q", got)
	}
}
