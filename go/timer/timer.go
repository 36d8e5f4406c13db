// timer makes timing operations easier.
package timer

import (
	"time"

	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/sklog"
)

// Timer is for timing events. When finished the duration is reported
// via sklog.
//
// The standard way to use Timer is at the top of the func you
// want to measure:
//
//	defer timer.New("database sync time").Stop()
type Timer struct {
	Begin   time.Time
	Name    string
	Summary metrics2.Float64SummaryMetric
}

func New(name string) *Timer {
	return &Timer{
		Begin: time.Now(),
		Name:  name,
	}
}

// NewWithSummary also reports the elapsed time in seconds to the given
// summary metric.
func NewWithSummary(name string, summary metrics2.Float64SummaryMetric) *Timer {
	return &Timer{
		Begin:   time.Now(),
		Name:    name,
		Summary: summary,
	}
}

func (t Timer) Stop() {
	elapsed := time.Since(t.Begin)
	sklog.Infof("%s %v", t.Name, elapsed)
	if t.Summary != nil {
		t.Summary.Observe(elapsed.Seconds())
	}
}
