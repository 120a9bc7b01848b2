package coldcall

import (
	"context"
	"errors"
	"testing"
)

func newTestSession(t *testing.T, maxTurns int, backend TextGenerator) *Session {
	t.Helper()
	g, err := NewResponseGenerator(backend)
	if err != nil {
		t.Fatalf("NewResponseGenerator() error = %v", err)
	}
	s, err := NewSession("call-1", maxTurns, g, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func cannedGenerator(reply string) TextGenerator {
	return GeneratorFunc(func(context.Context, GenerationRequest) (string, error) {
		return reply, nil
	})
}

func failingGenerator() TextGenerator {
	return GeneratorFunc(func(context.Context, GenerationRequest) (string, error) {
		return "", errors.New("connection refused")
	})
}

func TestNewSessionConfigurationFaults(t *testing.T) {
	t.Parallel()

	if _, err := NewSession("x", 6, nil, nil); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("NewSession(nil generator) error = %v, want ErrNoGenerator", err)
	}
	g, _ := NewResponseGenerator(cannedGenerator("hi"))
	if _, err := NewSession("x", 0, g, nil); err == nil {
		t.Fatal("NewSession(maxTurns=0) error = nil, want error")
	}
}

func TestBeginReturnsOpeningLine(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, DefaultMaxTurns, cannedGenerator("hi"))
	if got := s.Begin(); got != OpeningLine {
		t.Fatalf("Begin() = %q, want opening line", got)
	}
	snap := s.Snapshot()
	if snap.Stage != StageOwnerCheck || !snap.Active || snap.TurnCount != 0 || snap.LastBotMessage != OpeningLine {
		t.Fatalf("unexpected snapshot after Begin: %+v", snap)
	}
}

func TestOwnerConfirmedThenOffDomain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSession(t, DefaultMaxTurns, cannedGenerator("should not be used"))
	s.Begin()

	res := s.HandleUtterance(ctx, "Yes, this is the owner")
	if res.Reply != QualificationPrompt || res.Disposition != nil {
		t.Fatalf("owner confirmation result = %+v", res)
	}
	if s.Stage() != StageQualification {
		t.Fatalf("stage = %v, want qualification", s.Stage())
	}

	res = s.HandleUtterance(ctx, "We sell bakery items")
	if res.Disposition == nil || res.Disposition.Reason != ReasonOffDomain {
		t.Fatalf("off-domain result = %+v", res)
	}
	if s.Active() {
		t.Fatal("session still active after disposition")
	}
}

func TestNonDecisionMaker(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, DefaultMaxTurns, cannedGenerator("x"))
	s.Begin()
	res := s.HandleUtterance(context.Background(), "I'm not the owner, I'm the receptionist")
	if res.Disposition == nil || res.Disposition.Reason != ReasonNonDecisionMaker {
		t.Fatalf("result = %+v, want non-decision maker", res)
	}
	if res.Disposition.NextAction != NextReachOwner {
		t.Fatalf("next action = %q", res.Disposition.NextAction)
	}
}

func TestDeclineEndsCallInEveryStage(t *testing.T) {
	t.Parallel()

	setups := map[string][]string{
		"owner_check":   nil,
		"qualification": {"yes speaking"},
		"pitch":         {"yes speaking", "we run a saas platform"},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := newTestSession(t, DefaultMaxTurns, cannedGenerator("tell me more"))
			s.Begin()
			for _, u := range setup {
				if res := s.HandleUtterance(ctx, u); res.Ended() {
					t.Fatalf("setup utterance %q ended the call: %+v", u, res)
				}
			}
			res := s.HandleUtterance(ctx, "not interested")
			if res.Disposition == nil || res.Disposition.Reason != ReasonDeclined {
				t.Fatalf("result = %+v, want declined", res)
			}
		})
	}
}

func TestBusyOutranksOwnerConfirmation(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, DefaultMaxTurns, cannedGenerator("x"))
	s.Begin()
	res := s.HandleUtterance(context.Background(), "Yes I am the owner but I'm busy")
	if res.Disposition == nil || res.Disposition.Reason != ReasonBusy {
		t.Fatalf("result = %+v, want busy", res)
	}
}

func TestRepeatReturnsLastLineWithoutProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := 0
	s := newTestSession(t, DefaultMaxTurns, GeneratorFunc(func(context.Context, GenerationRequest) (string, error) {
		calls++
		return "generated", nil
	}))
	s.Begin()

	res := s.HandleUtterance(ctx, "sorry, again?")
	if res.Reply != OpeningLine {
		t.Fatalf("repeat reply = %q, want opening line", res.Reply)
	}
	s.HandleUtterance(ctx, "yes")
	res = s.HandleUtterance(ctx, "sorry, again?")
	if res.Reply != QualificationPrompt {
		t.Fatalf("repeat reply = %q, want qualification prompt", res.Reply)
	}

	snap := s.Snapshot()
	if snap.Stage != StageQualification {
		t.Fatalf("stage = %v, want qualification", snap.Stage)
	}
	if snap.TurnCount != 3 {
		t.Fatalf("turn count = %d, want 3", snap.TurnCount)
	}
	if calls != 0 {
		t.Fatalf("generator calls = %d, want 0", calls)
	}
	if last := snap.History[len(snap.History)-1]; last.AssistantText != "" {
		t.Fatalf("repeat turn assistant text = %q, want empty", last.AssistantText)
	}
}

func TestStagesAdvanceForwardOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSession(t, 20, cannedGenerator("Happy to explain."))
	s.Begin()

	want := []struct {
		text  string
		stage Stage
	}{
		{"hello", StageOwnerCheck},
		{"yes", StageQualification},
		{"yes", StagePitch},
		{"yes", StagePitch},
		{"how does it work", StagePitch},
	}
	prev := StageOwnerCheck
	for _, w := range want {
		res := s.HandleUtterance(ctx, w.text)
		if res.Ended() {
			t.Fatalf("utterance %q ended call: %+v", w.text, res)
		}
		got := s.Stage()
		if got != w.stage {
			t.Fatalf("after %q stage = %v, want %v", w.text, got, w.stage)
		}
		if got < prev || got > prev+1 {
			t.Fatalf("illegal transition %v -> %v", prev, got)
		}
		prev = got
	}
}

func TestQualificationAndPitchUseFallbackWhenGeneratorFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSession(t, DefaultMaxTurns, failingGenerator())
	s.Begin()
	s.HandleUtterance(ctx, "yes speaking")

	for _, u := range []string{"we build fintech apps", "what does it cost", "how fast"} {
		res := s.HandleUtterance(ctx, u)
		if res.Reply != FallbackReply {
			t.Fatalf("reply to %q = %q, want fallback", u, res.Reply)
		}
	}
	snap := s.Snapshot()
	if snap.LastBotMessage != FallbackReply {
		t.Fatalf("last bot message = %q", snap.LastBotMessage)
	}
	if got := snap.History[len(snap.History)-1].AssistantText; got != FallbackReply {
		t.Fatalf("turn assistant text = %q", got)
	}
}

func TestTurnBudgetExceeded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const budget = 4
	s := newTestSession(t, budget, cannedGenerator("Who am I speaking with?"))
	s.Begin()

	for i := 1; i <= budget; i++ {
		res := s.HandleUtterance(ctx, "hello")
		if res.Ended() {
			t.Fatalf("call ended early at turn %d: %+v", i, res)
		}
		if got := s.Snapshot().TurnCount; got != i {
			t.Fatalf("turn count = %d, want %d", got, i)
		}
	}
	res := s.HandleUtterance(ctx, "not interested")
	if res.Disposition == nil || res.Disposition.Reason != ReasonTimeWindowExceeded {
		t.Fatalf("result = %+v, want time window exceeded", res)
	}
	if res.Disposition.NextAction != NextFollowUpLater {
		t.Fatalf("next action = %q", res.Disposition.NextAction)
	}
	if n := len(s.Snapshot().History); n != budget {
		t.Fatalf("history length = %d, want %d", n, budget)
	}
}

func TestEndedSessionOnlyReturnsNotice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSession(t, DefaultMaxTurns, cannedGenerator("x"))
	s.Begin()
	s.HandleUtterance(ctx, "no thanks")
	before := s.Snapshot()

	for _, u := range []string{"yes", "hello", "not interested", "repeat"} {
		res := s.HandleUtterance(ctx, u)
		if res.Notice != InactiveNotice || res.Reply != "" || res.Disposition != nil {
			t.Fatalf("result for %q = %+v, want inactive notice", u, res)
		}
		if res.Final() != InactiveNotice || !res.Ended() {
			t.Fatalf("Final() = %q", res.Final())
		}
	}
	after := s.Snapshot()
	if after.TurnCount != before.TurnCount || len(after.History) != len(before.History) {
		t.Fatalf("inactive calls mutated state: before %+v after %+v", before, after)
	}
	if after.Disposition == nil || after.Disposition.Reason != ReasonDeclined {
		t.Fatalf("disposition changed: %+v", after.Disposition)
	}
}

func TestBeginResetsEndedSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSession(t, DefaultMaxTurns, cannedGenerator("x"))
	s.Begin()
	s.HandleUtterance(ctx, "stop calling")
	s.Begin()

	snap := s.Snapshot()
	if !snap.Active || snap.Disposition != nil || len(snap.History) != 0 || snap.TurnCount != 0 {
		t.Fatalf("Begin() did not reset session: %+v", snap)
	}
}

func TestOwnerConfirmationOutranksOffDomain(t *testing.T) {
	t.Parallel()

	gen := &recordingGenerator{reply: "unused"}
	s := newTestSession(t, DefaultMaxTurns, gen)
	s.Begin()

	res := s.HandleUtterance(context.Background(), "Yes I am the owner, we run a bakery")
	if res.Ended() || res.Reply != QualificationPrompt {
		t.Fatalf("result = %+v, want qualification prompt", res)
	}
	if s.Stage() != StageQualification {
		t.Fatalf("stage = %v, want qualification", s.Stage())
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator called %d times, want 0", len(gen.calls))
	}
}

func TestOffDomainEndsCallBeforeGeneration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &recordingGenerator{reply: "Cloud costs add up fast."}
	s := newTestSession(t, DefaultMaxTurns, gen)
	s.Begin()
	s.HandleUtterance(ctx, "yes speaking")
	s.HandleUtterance(ctx, "we run a saas platform")
	if s.Stage() != StagePitch {
		t.Fatalf("stage = %v, want pitch", s.Stage())
	}
	before := len(gen.calls)

	res := s.HandleUtterance(ctx, "honestly most of our money comes from the bakery")
	if res.Disposition == nil || res.Disposition.Reason != ReasonOffDomain {
		t.Fatalf("result = %+v, want off-domain disposition", res)
	}
	if res.Disposition.NextAction != NextNoOpportunity {
		t.Fatalf("next action = %q", res.Disposition.NextAction)
	}
	if got := len(gen.calls) - before; got != 0 {
		t.Fatalf("generator called %d times on the off-domain turn, want 0", got)
	}
}
