package economy

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// spinTurns is how many full rotations the wheel animation makes before settling.
const spinTurns = 5

type SpinResult struct {
	Index int             `json:"index"`
	Prize decimal.Decimal `json:"prize"`
	Angle float64         `json:"angle"`
}

// Spinner picks wheel segments. Segments are equally likely; a prize value that
// appears on several segments is proportionally more likely, like a physical wheel.
type Spinner struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewSpinner(src mathrand.Source) *Spinner {
	if src == nil {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &Spinner{rand: mathrand.New(src)}
}

func (s *Spinner) nextIndex(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}

func (s *Spinner) Spin(prizes []decimal.Decimal, hasKey bool) (SpinResult, error) {
	if !hasKey {
		return SpinResult{}, ErrNoKey
	}
	if len(prizes) == 0 {
		return SpinResult{}, fmt.Errorf("%w: wheel has no segments", ErrInvalidInput)
	}
	i := s.nextIndex(len(prizes))
	return SpinResult{Index: i, Prize: prizes[i], Angle: LandingAngle(i, len(prizes))}, nil
}

// LandingAngle is the clockwise rotation in degrees that brings the centre of
// segment i under the pointer. It is derived from the outcome, never the reverse.
func LandingAngle(i, segments int) float64 {
	if segments <= 0 {
		return 0
	}
	seg := 360.0 / float64(segments)
	return spinTurns*360 + 360 - (float64(i)+0.5)*seg
}
