package workflow

import "time"

func (w *Worker) SetClock(now func() time.Time, jitter func() float64) {
	w.now = now
	w.jitter = jitter
}

func (svc *Service) SetClock(now func() time.Time) { svc.now = now }
