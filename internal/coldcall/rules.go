package coldcall

import "context"

// rule is one entry of the dialogue priority table. Rules are evaluated top
// down and the first match fires.
type rule struct {
	name  string
	match func(stage Stage, sig Signals) bool
	fire  func(ctx context.Context, s *Session, text string) Result
}

func ending(reason, nextAction string) func(context.Context, *Session, string) Result {
	return func(_ context.Context, s *Session, _ string) Result {
		return s.end(reason, nextAction)
	}
}

func inStage(want Stage) func(Stage, Signals) bool {
	return func(stage Stage, _ Signals) bool { return stage == want }
}

// dialogueRules holds the priority order. Off-domain detection sits below
// owner confirmation, so an owner who confirms and names an off-domain trade
// in the same breath is still advanced to qualification.
var dialogueRules = []rule{
	{
		name:  "repeat",
		match: func(_ Stage, sig Signals) bool { return sig.Repeat },
		fire: func(_ context.Context, s *Session, _ string) Result {
			return Result{Reply: s.lastBotMessage}
		},
	},
	{
		name:  "not_interested",
		match: func(_ Stage, sig Signals) bool { return sig.NotInterested },
		fire:  ending(ReasonDeclined, NextNoFollowUp),
	},
	{
		name:  "busy",
		match: func(_ Stage, sig Signals) bool { return sig.Busy },
		fire:  ending(ReasonBusy, NextCallBack),
	},
	{
		name:  "not_owner",
		match: func(stage Stage, sig Signals) bool { return stage == StageOwnerCheck && sig.NotOwner },
		fire:  ending(ReasonNonDecisionMaker, NextReachOwner),
	},
	{
		name:  "owner_confirmed",
		match: func(stage Stage, sig Signals) bool { return stage == StageOwnerCheck && sig.OwnerConfirmed },
		fire: func(_ context.Context, s *Session, _ string) Result {
			s.advance(StageQualification)
			return s.reply(QualificationPrompt)
		},
	},
	{
		name:  "off_domain",
		match: func(_ Stage, sig Signals) bool { return sig.NonITBusiness },
		fire:  ending(ReasonOffDomain, NextNoOpportunity),
	},
	{
		name:  "qualification",
		match: inStage(StageQualification),
		fire: func(ctx context.Context, s *Session, text string) Result {
			s.advance(StagePitch)
			return s.generate(ctx, text, LabelQualification)
		},
	},
	{
		name:  "pitch",
		match: inStage(StagePitch),
		fire: func(ctx context.Context, s *Session, text string) Result {
			return s.generate(ctx, text, LabelPitch)
		},
	},
	{
		name:  "general",
		match: func(Stage, Signals) bool { return true },
		fire: func(ctx context.Context, s *Session, text string) Result {
			return s.generate(ctx, text, LabelGeneral)
		},
	},
}
