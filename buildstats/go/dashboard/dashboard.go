// Package dashboard summarizes the job log for the operational dashboard.
package dashboard

import (
	"context"
	"sort"
	"time"

	"go.buildstats.org/infra/buildstats/go/joblog"
	"go.buildstats.org/infra/go/skerr"
)

// HourBucket is the jobs queued within one clock hour. Hours with no jobs
// produce no bucket.
type HourBucket struct {
	// Hour is the start of the bucket, truncated to the hour, UTC.
	Hour time.Time `json:"hour"`

	// Throughput is the number of jobs queued in this hour.
	Throughput int `json:"throughput"`

	// AverageLatencySeconds is the mean processing latency of the finished
	// jobs in this hour, 0 if none finished.
	AverageLatencySeconds float64 `json:"averageLatencySeconds"`
}

// Summary is the dashboard payload for one [from, to) window.
type Summary struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// StatusCounts has one entry per status, zero-filled.
	StatusCounts map[joblog.Status]int `json:"statusCounts"`

	// AverageLatencySeconds is the mean processing latency over every
	// finished job in the window, 0 if none finished.
	AverageLatencySeconds float64 `json:"averageLatencySeconds"`

	// Hourly is the per-hour series, oldest hour first.
	Hourly []HourBucket `json:"hourly"`
}

// Summarize builds the Summary for jobs queued in [from, to).
func Summarize(ctx context.Context, jobs joblog.Store, from, to time.Time) (*Summary, error) {
	entries, err := jobs.ListRange(ctx, from, to)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	ret := &Summary{
		From:         from,
		To:           to,
		StatusCounts: map[joblog.Status]int{},
		Hourly:       []HourBucket{},
	}
	for _, status := range joblog.AllStatuses {
		ret.StatusCounts[status] = 0
	}

	type hourAccumulator struct {
		queued       int
		finished     int
		totalLatency time.Duration
	}
	byHour := map[time.Time]*hourAccumulator{}

	totalFinished := 0
	var totalLatency time.Duration
	for _, e := range entries {
		ret.StatusCounts[e.Status]++
		hour := e.QueuedAt.UTC().Truncate(time.Hour)
		acc := byHour[hour]
		if acc == nil {
			acc = &hourAccumulator{}
			byHour[hour] = acc
		}
		acc.queued++
		if latency, ok := e.Latency(); ok {
			totalFinished++
			totalLatency += latency
			acc.finished++
			acc.totalLatency += latency
		}
	}
	if totalFinished > 0 {
		ret.AverageLatencySeconds = totalLatency.Seconds() / float64(totalFinished)
	}

	hours := make([]time.Time, 0, len(byHour))
	for hour := range byHour {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	for _, hour := range hours {
		acc := byHour[hour]
		bucket := HourBucket{
			Hour:       hour,
			Throughput: acc.queued,
		}
		if acc.finished > 0 {
			bucket.AverageLatencySeconds = acc.totalLatency.Seconds() / float64(acc.finished)
		}
		ret.Hourly = append(ret.Hourly, bucket)
	}
	return ret, nil
}
