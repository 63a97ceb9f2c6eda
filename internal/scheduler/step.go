package scheduler

import "time"

// Plan describes the sub-steps of one stage: SubSteps notifications spaced
// Interval apart, followed by completion Trailing after the last one.
type Plan struct {
	StageID  string
	SubSteps int
	Interval time.Duration
	Trailing time.Duration
}

// Offset returns when sub-step k (1-based) fires relative to stage start.
func (p Plan) Offset(k int) time.Duration {
	return time.Duration(k) * p.Interval
}

// Duration is the scheduled length of the stage. It is the value recorded as
// the stage's display duration.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.SubSteps)*p.Interval + p.Trailing
}

// StepScheduler turns a stage Plan into queued callbacks.
type StepScheduler struct {
	queue *Queue
}

// NewStepScheduler creates a StepScheduler on top of q.
func NewStepScheduler(q *Queue) *StepScheduler {
	return &StepScheduler{queue: q}
}

// Queue returns the underlying queue.
func (s *StepScheduler) Queue() *Queue { return s.queue }

// RunStage schedules onSubStep(k) for k in 1..plan.SubSteps at plan.Offset(k)
// and onDone at plan.Duration(). All handles belong to tok.
func (s *StepScheduler) RunStage(tok *Token, plan Plan, onSubStep func(k int), onDone func()) []Handle {
	handles := make([]Handle, 0, plan.SubSteps+1)
	for k := 1; k <= plan.SubSteps; k++ {
		k := k
		handles = append(handles, s.queue.Schedule(tok, plan.Offset(k), func() {
			if onSubStep != nil {
				onSubStep(k)
			}
		}))
	}
	handles = append(handles, s.queue.Schedule(tok, plan.Duration(), func() {
		if onDone != nil {
			onDone()
		}
	}))
	return handles
}
