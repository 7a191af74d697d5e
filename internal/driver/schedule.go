package driver

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/ising/internal/constants"
)

// ErrEmptySchedule is returned when a schedule has no temperatures.
var ErrEmptySchedule = errors.New("temperature schedule is empty")

// Schedule is an ordered list of temperatures, run in order.
type Schedule []float64

// DefaultSchedule returns T_k = 0.5*(k+1) for k = 0..11.
func DefaultSchedule() Schedule {
	return LinearSchedule(constants.DefaultSchedulePoints, constants.DefaultScheduleStep)
}

// LinearSchedule returns n temperatures step, 2*step, ..., n*step. A
// non-positive n yields an empty schedule, which Validate rejects.
func LinearSchedule(n int, step float64) Schedule {
	if n <= 0 {
		return Schedule{}
	}
	s := make(Schedule, n)
	for k := range s {
		s[k] = float64(k+1) * step
	}
	return s
}

// Validate checks that the schedule is non-empty and every temperature is a
// finite positive number.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}
	for i, t := range s {
		if !(t > 0) || math.IsInf(t, 1) {
			return fmt.Errorf("temperature %d must be positive and finite, got %v", i, t)
		}
	}
	return nil
}

// Betas returns the inverse temperatures 1/T in schedule order.
func (s Schedule) Betas() []float64 {
	betas := make([]float64, len(s))
	for i, t := range s {
		betas[i] = 1 / t
	}
	return betas
}
