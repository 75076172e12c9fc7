package scheduler

import (
	"container/heap"
	"time"

	"github.com/1broseidon/beacon/pkg/models"
)

// JobState is the lifecycle state of a scheduled job
type JobState string

const (
	JobScheduled JobState = "scheduled"
	JobRunning   JobState = "running"
	JobCancelled JobState = "cancelled"
)

// job binds one enabled monitor to its recurring execution. Guarded by
// Scheduler.mu.
type job struct {
	monitor  *models.Monitor
	interval time.Duration
	next     time.Time
	state    JobState
	index    int

	fires    uint64
	missed   uint64
	lastFire time.Time
}

// advance moves next past now on the fixed-rate grid and returns the tick
// being fired plus the number of ticks dropped before it.
func (j *job) advance(now time.Time) (fire time.Time, missed int) {
	ticks := now.Sub(j.next) / j.interval
	fire = j.next.Add(ticks * j.interval)
	j.next = fire.Add(j.interval)
	return fire, int(ticks)
}

// JobInfo is a read-only view of a scheduled job
type JobInfo struct {
	MonitorID   int64              `json:"monitor_id"`
	Name        string             `json:"name"`
	Kind        models.MonitorKind `json:"kind"`
	Interval    models.Duration    `json:"interval"`
	NextFire    time.Time          `json:"next_fire"`
	LastFire    *time.Time         `json:"last_fire,omitempty"`
	State       JobState           `json:"state"`
	Fires       uint64             `json:"fires"`
	MissedTicks uint64             `json:"missed_ticks"`
}

func (j *job) info() JobInfo {
	info := JobInfo{
		MonitorID:   j.monitor.ID,
		Name:        j.monitor.Name,
		Kind:        j.monitor.Kind,
		Interval:    models.Duration(j.interval),
		NextFire:    j.next,
		State:       j.state,
		Fires:       j.fires,
		MissedTicks: j.missed,
	}
	if !j.lastFire.IsZero() {
		last := j.lastFire
		info.LastFire = &last
	}
	return info
}

// jobHeap orders jobs by next fire time
type jobHeap []*job

var _ heap.Interface = (*jobHeap)(nil)

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].monitor.ID < h[j].monitor.ID
	}
	return h[i].next.Before(h[j].next)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}
