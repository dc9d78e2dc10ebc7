package retry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleFiresOnce(t *testing.T) {
	s := New(20 * time.Millisecond)
	var fired int32
	s.Schedule("id-1", func() { atomic.AddInt32(&fired, 1) })

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestScheduleReplacesPriorTimer(t *testing.T) {
	s := New(15 * time.Millisecond)
	var firstFired, secondFired int32
	s.Schedule("id-1", func() { atomic.AddInt32(&firstFired, 1) })
	s.Schedule("id-1", func() { atomic.AddInt32(&secondFired, 1) })

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&firstFired), "superseded timer must not fire")
	assert.EqualValues(t, 1, atomic.LoadInt32(&secondFired))
}

func TestCancelPreventsFire(t *testing.T) {
	s := New(15 * time.Millisecond)
	var fired int32
	s.Schedule("id-1", func() { atomic.AddInt32(&fired, 1) })
	s.Cancel("id-1")

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestCancelAll(t *testing.T) {
	s := New(15 * time.Millisecond)
	var fired int32
	s.Schedule("a", func() { atomic.AddInt32(&fired, 1) })
	s.Schedule("b", func() { atomic.AddInt32(&fired, 1) })
	s.CancelAll()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}
