package epc

import "fmt"

// Rating is an EPC energy-efficiency band, A (best) to G (worst).
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
	RatingE Rating = "E"
	RatingF Rating = "F"
	RatingG Rating = "G"
)

// NumRatings is the number of EPC bands.
const NumRatings = 7

// Ratings lists all bands in class-index order (A=0 .. G=6), matching the
// column order of classifier probability output.
var Ratings = [NumRatings]Rating{RatingA, RatingB, RatingC, RatingD, RatingE, RatingF, RatingG}

// RatingFromIndex maps a classifier class index back to its band.
func RatingFromIndex(i int) (Rating, error) {
	if i < 0 || i >= NumRatings {
		return "", fmt.Errorf("rating index %d out of range [0,%d]", i, NumRatings-1)
	}
	return Ratings[i], nil
}

// Index returns the class index for a band (A=0 .. G=6), or -1 if the band
// is not a valid rating.
func (r Rating) Index() int {
	if len(r) != 1 {
		return -1
	}
	i := int(r[0] - 'A')
	if i < 0 || i >= NumRatings {
		return -1
	}
	return i
}

// Valid reports whether r is one of the seven EPC bands.
func (r Rating) Valid() bool {
	return r.Index() >= 0
}

// Better reports whether r is a strictly better band than other
// (A beats B, B beats C, and so on).
func (r Rating) Better(other Rating) bool {
	i := r.Index()
	return i >= 0 && (i < other.Index() || !other.Valid())
}

// ParseRating validates a raw band value from an input table.
func ParseRating(s string) (Rating, error) {
	r := Rating(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid EPC rating %q", s)
	}
	return r, nil
}
