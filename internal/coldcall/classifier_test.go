package coldcall

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want Signals
	}{
		{name: "owner_yes", text: "Yes, this is the owner", want: Signals{OwnerConfirmed: true}},
		{name: "receptionist", text: "I'm not the owner, I'm the receptionist", want: Signals{NotOwner: true}},
		{name: "bakery", text: "We sell bakery items", want: Signals{NonITBusiness: true}},
		{name: "repeat_caps", text: "Sorry, could you REPEAT that?", want: Signals{Repeat: true}},
		{name: "didnt_hear_curly", text: "I didn’t hear you", want: Signals{Repeat: true}},
		{name: "decline", text: "No thanks, stop calling", want: Signals{NotInterested: true}},
		{name: "busy_later", text: "I'm in a meeting, call later", want: Signals{Busy: true}},
		{name: "neutral", text: "hello", want: Signals{}},
		{name: "whole_word_only", text: "We run workshops on analytics", want: Signals{}},
		{name: "accented_prefix", text: "We run an éshop", want: Signals{}},
		{name: "accented_neighbour_word", text: "Oui, c'est la boulangerie-shop", want: Signals{NonITBusiness: true}},
		{name: "digit_suffix", text: "yes2 please", want: Signals{}},
		{name: "co_occurring", text: "Yes I am the owner but I'm busy", want: Signals{Busy: true, OwnerConfirmed: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.text)
			if got != tt.want {
				t.Fatalf("Classify(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSignalsNames(t *testing.T) {
	t.Parallel()

	sig := Signals{Repeat: true, NonITBusiness: true}
	want := []string{"repeat", "non_it_business"}
	if got := sig.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if got := (Signals{}).Names(); len(got) != 0 {
		t.Fatalf("Names() on empty signals = %v", got)
	}
}
