package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDelays(t *testing.T) {
	linear := Linear(3, 30*time.Second)
	assert.Equal(t, 30*time.Second, linear.Delay(1))
	assert.Equal(t, 60*time.Second, linear.Delay(2))
	assert.Equal(t, 90*time.Second, linear.Delay(3))

	exp := Exponential(4, time.Second)
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 2*time.Second, exp.Delay(2))
	assert.Equal(t, 4*time.Second, exp.Delay(3))
}

func TestPolicy_Next(t *testing.T) {
	policy := Exponential(3, time.Second)
	down := errors.New("unreachable")

	tests := []struct {
		name    string
		attempt int
		err     error
		wait    time.Duration
		again   bool
	}{
		{"success", 1, nil, 0, false},
		{"first failure", 1, down, time.Second, true},
		{"second failure", 2, down, 2 * time.Second, true},
		{"attempts exhausted", 3, down, 0, false},
		{"stopped", 1, Stop(down), 0, false},
		{"stopped and wrapped", 1, fmt.Errorf("webhook: %w", Stop(down)), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wait, again := policy.Next(tt.attempt, tt.err)
			assert.Equal(t, tt.wait, wait)
			assert.Equal(t, tt.again, again)
		})
	}
}

func TestStop(t *testing.T) {
	cause := errors.New("410 gone")

	assert.Nil(t, Stop(nil))
	assert.True(t, IsStop(Stop(cause)))
	assert.False(t, IsStop(cause))
	assert.ErrorIs(t, Stop(cause), cause)
	assert.Same(t, cause, Cause(Stop(cause)))
	assert.Same(t, cause, Cause(cause))
}
