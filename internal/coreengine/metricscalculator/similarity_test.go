package metricscalculator

import "testing"

func TestErrorRates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		ref, cand string
		cer, wer  float64
	}{
		{name: "identical", ref: "the cat sat", cand: "the cat sat", cer: 0, wer: 0},
		{name: "one word substituted", ref: "the cat sat", cand: "the dog sat", cer: 3.0 / 11.0, wer: 1.0 / 3.0},
		{name: "word dropped", ref: "the cat sat", cand: "the sat", cer: 4.0 / 11.0, wer: 1.0 / 3.0},
		{name: "both empty", ref: "", cand: "", cer: 0, wer: 0},
		{name: "empty reference", ref: "", cand: "hello", cer: 1, wer: 1},
		{name: "case-insensitive words", ref: "Hello World", cand: "hello world", cer: 2.0 / 11.0, wer: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CharacterErrorRate(tt.ref, tt.cand); !approx(got, tt.cer, 1e-9) {
				t.Errorf("CER = %v, want %v", got, tt.cer)
			}
			if got := WordErrorRate(tt.ref, tt.cand); !approx(got, tt.wer, 1e-9) {
				t.Errorf("WER = %v, want %v", got, tt.wer)
			}
		})
	}
}

func TestSimilarityBounds(t *testing.T) {
	t.Parallel()
	if got := Similarity("Mira never swears", "Mira never swears"); got != 100 {
		t.Fatalf("identical similarity = %v, want 100", got)
	}
	if got := Similarity("", ""); got != 100 {
		t.Fatalf("empty similarity = %v, want 100", got)
	}
	close := Similarity("Mira never swears on screen", "Mira never swears on stage")
	far := Similarity("Mira never swears on screen", "completely unrelated output text here")
	if !(close > far) {
		t.Fatalf("close (%v) should score above far (%v)", close, far)
	}
	if far < 0 || close > 100 {
		t.Fatalf("similarity out of range: %v, %v", close, far)
	}
}
