package models

import "testing"

func TestMailPriorityRank(t *testing.T) {
	order := []MailPriority{MailPriorityLow, MailPriorityNormal, MailPriorityHigh, MailPriorityUrgent}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%s) = %d, want > Rank(%s) = %d", order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if got := MailPriority("bogus").Rank(); got != MailPriorityNormal.Rank() {
		t.Errorf("Rank(bogus) = %d, want %d", got, MailPriorityNormal.Rank())
	}
}

func TestVisibilityDelivers(t *testing.T) {
	v := Visibility{ShowCommentary: false, ShowAnalysis: false}
	if !v.Delivers(ChannelFinal) {
		t.Error("final must always be delivered")
	}
	if v.Delivers(ChannelAnalysis) || v.Delivers(ChannelCommentary) {
		t.Error("hidden channels delivered with visibility off")
	}
	v = Visibility{ShowCommentary: true, ShowAnalysis: true}
	if !v.Delivers(ChannelAnalysis) || !v.Delivers(ChannelCommentary) {
		t.Error("channels withheld with visibility on")
	}
}
