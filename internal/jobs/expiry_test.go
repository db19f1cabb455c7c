package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/pairing-gateway-go/internal/clock"
)

type expiredCodes struct {
	mu    sync.Mutex
	codes []string
}

func (e *expiredCodes) record(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *expiredCodes) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.codes...)
}

var expiryEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestExpiryScheduler(t *testing.T) {
	t.Run("fires at the deadline and not before", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		var got expiredCodes
		s := NewExpiryScheduler(clk, got.record)

		s.Schedule("AAAA1111", expiryEpoch.Add(10*time.Minute))

		clk.Advance(10*time.Minute - time.Second)
		assert.Empty(t, got.list())

		clk.Advance(time.Second)
		assert.Equal(t, []string{"AAAA1111"}, got.list())
		assert.Equal(t, 0, s.Len())
	})

	t.Run("fires in deadline order regardless of schedule order", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		var got expiredCodes
		s := NewExpiryScheduler(clk, got.record)

		s.Schedule("CCCC3333", expiryEpoch.Add(3*time.Minute))
		s.Schedule("AAAA1111", expiryEpoch.Add(time.Minute))
		s.Schedule("BBBB2222", expiryEpoch.Add(2*time.Minute))

		clk.Advance(time.Minute)
		assert.Equal(t, []string{"AAAA1111"}, got.list())

		clk.Advance(5 * time.Minute)
		assert.Equal(t, []string{"AAAA1111", "BBBB2222", "CCCC3333"}, got.list())
	})

	t.Run("holds a single timer", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		s := NewExpiryScheduler(clk, func(string) {})

		for i := 0; i < 50; i++ {
			s.Schedule("AAAA1111", expiryEpoch.Add(time.Duration(50-i)*time.Second))
		}

		assert.Equal(t, 1, clk.Pending())
		assert.Equal(t, 50, s.Len())
	})

	t.Run("fires entries sharing a deadline together", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		var got expiredCodes
		s := NewExpiryScheduler(clk, got.record)

		s.Schedule("AAAA1111", expiryEpoch.Add(time.Minute))
		s.Schedule("BBBB2222", expiryEpoch.Add(time.Minute))

		clk.Advance(time.Minute)
		assert.ElementsMatch(t, []string{"AAAA1111", "BBBB2222"}, got.list())
	})

	t.Run("past deadline fires promptly", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		var got expiredCodes
		s := NewExpiryScheduler(clk, got.record)

		s.Schedule("AAAA1111", expiryEpoch.Add(-time.Second))

		assert.Eventually(t, func() bool {
			return len(got.list()) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("stop cancels pending deadlines", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		var got expiredCodes
		s := NewExpiryScheduler(clk, got.record)

		s.Schedule("AAAA1111", expiryEpoch.Add(time.Minute))
		s.Stop()
		s.Schedule("BBBB2222", expiryEpoch.Add(time.Minute))

		clk.Advance(time.Hour)
		assert.Empty(t, got.list())
		assert.Equal(t, 0, s.Len())
	})

	t.Run("callback may schedule again", func(t *testing.T) {
		clk := clock.Fake(expiryEpoch)
		var got expiredCodes
		var s *ExpiryScheduler
		s = NewExpiryScheduler(clk, func(code string) {
			got.record(code)
			if code == "AAAA1111" {
				s.Schedule("BBBB2222", clk.Now().Add(time.Minute))
			}
		})

		s.Schedule("AAAA1111", expiryEpoch.Add(time.Minute))
		clk.Advance(time.Minute)
		clk.Advance(time.Minute)

		assert.Equal(t, []string{"AAAA1111", "BBBB2222"}, got.list())
	})
}
