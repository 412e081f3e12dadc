package stream

import "testing"

func TestSuffixFilter(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
		stream Name
		want   bool
	}{
		{name: "matches", suffix: "-T", stream: "traces-T", want: true},
		{name: "no-match", suffix: "-T", stream: "metrics-M", want: false},
		{name: "empty-suffix-matches-everything", suffix: "", stream: "anything", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := SuffixFilter(tt.suffix)
			if got := f.Matches(tt.stream); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnyOf(t *testing.T) {
	f := AnyOf("a", "b")
	if !f.Matches("a") {
		t.Error("expected a to match")
	}
	if f.Matches("c") {
		t.Error("expected c not to match")
	}
}

func TestAndOr(t *testing.T) {
	suffixT := SuffixFilter("-T")
	notMetrics := Matcher(func(n Name) bool { return n != "metrics-T" })

	and := And(suffixT, notMetrics)
	if !and.Matches("traces-T") {
		t.Error("expected traces-T to match And")
	}
	if and.Matches("metrics-T") {
		t.Error("expected metrics-T to be excluded by And")
	}

	or := Or(SuffixFilter("-T"), SuffixFilter("-M"))
	if !or.Matches("metrics-M") {
		t.Error("expected metrics-M to match Or")
	}
	if or.Matches("errors-E") {
		t.Error("expected errors-E not to match Or")
	}
}
