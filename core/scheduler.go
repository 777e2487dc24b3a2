package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler keeps timers sorted by WakeTime and runs the due ones against
// its clock. Ordering is wrap-safe for timers less than 2^31 µs apart.
type Scheduler struct {
	clock     Clock
	timerList *Timer
}

// NewScheduler creates an empty scheduler on clock
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Now returns the scheduler clock
func (s *Scheduler) Now() uint32 {
	return s.clock.NowMicros()
}

// Schedule adds a timer to the schedule
func (s *Scheduler) Schedule(t *Timer) {
	defer exitCritical(enterCritical())

	s.insertTimer(t)
}

// Cancel removes a timer if it is scheduled
func (s *Scheduler) Cancel(t *Timer) {
	defer exitCritical(enterCritical())

	if s.timerList == t {
		s.timerList = t.Next
		t.Next = nil
		return
	}
	for cur := s.timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// insertTimer inserts a timer in sorted order by WakeTime
func (s *Scheduler) insertTimer(t *Timer) {
	if s.timerList == nil || timeBefore(t.WakeTime, s.timerList.WakeTime) {
		t.Next = s.timerList
		s.timerList = t
		return
	}

	current := s.timerList
	for current.Next != nil && !timeBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Pending returns the number of scheduled timers
func (s *Scheduler) Pending() int {
	n := 0
	for cur := s.timerList; cur != nil; cur = cur.Next {
		n++
	}
	return n
}

// Dispatch runs every timer whose WakeTime has been reached
func (s *Scheduler) Dispatch() {
	defer exitCritical(enterCritical())

	now := s.clock.NowMicros()
	for s.timerList != nil && !timeBefore(now, s.timerList.WakeTime) {
		timer := s.timerList
		s.timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			s.insertTimer(timer)
		}
	}
}
