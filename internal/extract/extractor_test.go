package extract

import (
	"testing"
)

func TestFeed_PartialReasoning(t *testing.T) {
	e := New(Options{})
	stop := e.Feed("<think>partial")
	if stop {
		t.Fatal("Feed requested early stop")
	}
	st := e.Snapshot()
	if st.Phase != PhaseReasoning {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseReasoning)
	}
	if st.Reasoning != "partial" {
		t.Errorf("Reasoning = %q, want %q", st.Reasoning, "partial")
	}
	if st.Answer != "" {
		t.Errorf("Answer = %q, want empty", st.Answer)
	}
}

func TestFeed_ReasoningThenAnswer(t *testing.T) {
	e := New(Options{})
	stop := e.Feed("<think>done</think>final answer")
	if stop {
		t.Fatal("Feed requested early stop with both fields wanted")
	}
	st := e.Snapshot()
	if st.Phase != PhaseAnswer {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseAnswer)
	}
	if st.Reasoning != "done" {
		t.Errorf("Reasoning = %q, want %q", st.Reasoning, "done")
	}
	if st.Answer != "final answer" {
		t.Errorf("Answer = %q, want %q", st.Answer, "final answer")
	}
}

func TestFeed_NoMarkersMeansAnswer(t *testing.T) {
	e := New(Options{})
	e.Feed("just a plain completion")
	e.Finalize()
	_, answer, _ := e.Result()
	if answer != "just a plain completion" {
		t.Errorf("answer = %q, want full text", answer)
	}
	if st := e.Snapshot(); st.Phase != PhaseComplete {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseComplete)
	}
}

func TestFeed_IncrementalChunks(t *testing.T) {
	e := New(Options{})
	chunks := []string{"<th", "<think>step one", "<think>step one</think>", "<think>step one</think> result"}
	for _, c := range chunks {
		e.Feed(c)
	}
	st := e.Snapshot()
	if st.Reasoning != "step one" {
		t.Errorf("Reasoning = %q", st.Reasoning)
	}
	if st.Answer != "result" {
		t.Errorf("Answer = %q", st.Answer)
	}
}

func TestFeed_PartialOpenTagKeepsWaiting(t *testing.T) {
	e := New(Options{})
	e.Feed("<thi")
	if st := e.Snapshot(); st.Phase != PhaseWaiting {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseWaiting)
	}
}

func TestFeed_ReasoningOnlyStopsAtCloseMarker(t *testing.T) {
	e := New(Options{WantReasoning: true})
	if stop := e.Feed("<think>thinking hard"); stop {
		t.Fatal("stopped before close marker")
	}
	stop := e.Feed("<think>thinking hard</think>ignored tail")
	if !stop {
		t.Fatal("did not stop at close marker with reasoning-only extraction")
	}
	reasoning, answer, _ := e.Result()
	if reasoning != "thinking hard" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if answer != "" {
		t.Errorf("answer = %q, want empty (not wanted)", answer)
	}
}

func TestFeed_AnswerOnlySkipsReasoning(t *testing.T) {
	e := New(Options{WantAnswer: true})
	e.Feed("<think>secret</think>the answer")
	reasoning, answer, _ := e.Result()
	if reasoning != "" {
		t.Errorf("reasoning = %q, want empty (not wanted)", reasoning)
	}
	if answer != "the answer" {
		t.Errorf("answer = %q", answer)
	}
}

func TestFeed_CustomTags(t *testing.T) {
	e := New(Options{OpenTag: "<reasoning>", CloseTag: "</reasoning>"})
	e.Feed("<reasoning>abc</reasoning>xyz")
	st := e.Snapshot()
	if st.Reasoning != "abc" || st.Answer != "xyz" {
		t.Errorf("got reasoning=%q answer=%q", st.Reasoning, st.Answer)
	}
}

func TestFieldMode_PartialValue(t *testing.T) {
	e := New(Options{Mode: ModeField})
	e.Feed(`{"reasoning": "first we`)
	st := e.Snapshot()
	if st.Phase != PhaseReasoning {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseReasoning)
	}
	if st.Reasoning != "first we" {
		t.Errorf("Reasoning = %q", st.Reasoning)
	}
}

func TestFieldMode_CompleteObject(t *testing.T) {
	e := New(Options{Mode: ModeField})
	e.Feed(`{"reasoning": "r1", "answer": "a1"}`)
	st := e.Snapshot()
	if st.Phase != PhaseAnswer {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseAnswer)
	}
	if st.Reasoning != "r1" || st.Answer != "a1" {
		t.Errorf("got reasoning=%q answer=%q", st.Reasoning, st.Answer)
	}
}

func TestFieldMode_EscapedQuotes(t *testing.T) {
	e := New(Options{Mode: ModeField})
	e.Feed(`{"reasoning": "say \"hi\"\nok", "answer": "done`)
	st := e.Snapshot()
	if st.Reasoning != "say \"hi\"\nok" {
		t.Errorf("Reasoning = %q", st.Reasoning)
	}
	if st.Answer != "done" {
		t.Errorf("Answer = %q", st.Answer)
	}
}

func TestFieldMode_ReasoningOnlyEarlyStop(t *testing.T) {
	e := New(Options{Mode: ModeField, WantReasoning: true})
	if stop := e.Feed(`{"reasoning": "partial`); stop {
		t.Fatal("stopped on open value")
	}
	if stop := e.Feed(`{"reasoning": "full value",`); !stop {
		t.Fatal("did not stop once reasoning value closed")
	}
}

func TestMultiTurn(t *testing.T) {
	e := New(Options{TotalMessages: 2})
	e.SetUserMessage("first question")

	e.Feed("<think>r1</think>a1")
	e.Finalize()
	if st := e.Snapshot(); st.Phase != PhaseMessageComplete {
		t.Fatalf("Phase after first turn = %q, want %q", st.Phase, PhaseMessageComplete)
	}

	e.FinishTurn("second question")
	st := e.Snapshot()
	if st.MessageIndex != 1 {
		t.Errorf("MessageIndex = %d, want 1", st.MessageIndex)
	}
	if st.Reasoning != "" || st.Answer != "" || st.Raw != "" {
		t.Errorf("accumulators not cleared: %+v", st)
	}
	if st.UserMessage != "second question" {
		t.Errorf("UserMessage = %q", st.UserMessage)
	}

	e.Feed("<think>r2</think>a2")
	e.Finalize()
	if st := e.Snapshot(); st.Phase != PhaseComplete {
		t.Errorf("Phase after last turn = %q, want %q", st.Phase, PhaseComplete)
	}

	_, _, turns := e.Result()
	if len(turns) != 1 {
		t.Fatalf("completed turns = %d, want 1", len(turns))
	}
	if turns[0].User != "first question" || turns[0].Answer != "a1" {
		t.Errorf("turn[0] = %+v", turns[0])
	}
}

func TestFailAndReset(t *testing.T) {
	e := New(Options{})
	e.Feed("<think>some progress")
	e.Fail()
	if st := e.Snapshot(); st.Phase != PhaseError {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseError)
	}

	e.Reset()
	st := e.Snapshot()
	if st.Phase != PhaseWaiting {
		t.Errorf("Phase after Reset = %q, want %q", st.Phase, PhaseWaiting)
	}
	if st.Reasoning != "" || st.Answer != "" || st.Raw != "" {
		t.Errorf("state not cleared: %+v", st)
	}
}
