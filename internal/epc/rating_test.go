package epc

import "testing"

func TestRatingIndexRoundTrip(t *testing.T) {
	for i, want := range Ratings {
		got, err := RatingFromIndex(i)
		if err != nil {
			t.Fatalf("RatingFromIndex(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("RatingFromIndex(%d) = %s, want %s", i, got, want)
		}
		if got.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", got, got.Index(), i)
		}
	}
}

func TestRatingFromIndexOutOfRange(t *testing.T) {
	for _, i := range []int{-1, 7, 100} {
		if _, err := RatingFromIndex(i); err == nil {
			t.Errorf("RatingFromIndex(%d) expected error", i)
		}
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		input   string
		want    Rating
		wantErr bool
	}{
		{input: "A", want: RatingA},
		{input: "G", want: RatingG},
		{input: "D", want: RatingD},
		{input: "H", wantErr: true},
		{input: "", wantErr: true},
		{input: "AA", wantErr: true},
		{input: "a", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRating(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRating(%q) expected error, got %s", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRating(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRating(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestRatingBetter(t *testing.T) {
	if !RatingA.Better(RatingB) {
		t.Error("A should be better than B")
	}
	if RatingG.Better(RatingF) {
		t.Error("G should not be better than F")
	}
	if RatingC.Better(RatingC) {
		t.Error("a rating is not better than itself")
	}
}

func TestParseHeatingFuel(t *testing.T) {
	if _, err := ParseHeatingFuel(0); err != nil {
		t.Errorf("ParseHeatingFuel(0): %v", err)
	}
	if _, err := ParseHeatingFuel(1); err != nil {
		t.Errorf("ParseHeatingFuel(1): %v", err)
	}
	if _, err := ParseHeatingFuel(2); err == nil {
		t.Error("ParseHeatingFuel(2) expected error")
	}
}
