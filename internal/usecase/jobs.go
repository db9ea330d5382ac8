package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// JobStatus is the lifecycle position of an asynchronous conversion.
type JobStatus string

// Job states.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobPartial   JobStatus = "partial" // Finished with some tiles failed.
	JobFailed    JobStatus = "failed"
)

// Job is a snapshot of an asynchronous conversion.
type Job struct {
	ID       string         `json:"id"`
	Status   JobStatus      `json:"status"`
	Request  ConvertRequest `json:"-"`
	Input    string         `json:"input"`
	Result   *ConvertResult `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Created  time.Time      `json:"created"`
	Finished *time.Time     `json:"finished,omitempty"`
}

// JobRunner runs conversions in the background and keeps their status.
type JobRunner struct {
	conv *Converter
	ctx  context.Context

	mu   sync.RWMutex // Protect jobs.
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewJobRunner creates a JobRunner. Jobs are cancelled when ctx is.
func NewJobRunner(ctx context.Context, conv *Converter) *JobRunner {
	return &JobRunner{conv: conv, ctx: ctx, jobs: make(map[string]*Job)}
}

// Submit starts req in the background and returns the queued job.
func (r *JobRunner) Submit(req ConvertRequest) Job {
	j := &Job{
		ID:      uuid.NewString(),
		Status:  JobQueued,
		Request: req,
		Input:   req.Input,
		Created: time.Now().UTC(),
	}
	r.mu.Lock()
	r.jobs[j.ID] = j
	snapshot := *j
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.update(j.ID, func(j *Job) { j.Status = JobRunning })
		glog.Infof("job %s: converting %s", j.ID, req.Input)

		res, err := r.convert(req)
		r.update(j.ID, func(j *Job) {
			now := time.Now().UTC()
			j.Finished = &now
			j.Result = res
			switch {
			case err != nil:
				j.Status = JobFailed
				j.Error = err.Error()
			case res != nil && res.Failed > 0:
				j.Status = JobPartial
				j.Error = fmt.Sprintf("%d of %d tiles failed", res.Failed, res.Failed+res.Written+res.Skipped)
			default:
				j.Status = JobSucceeded
			}
		})
		if err != nil {
			glog.Errorf("job %s failed: %v", j.ID, err)
		}
	}()
	return snapshot
}

// convert runs one conversion. A panic fails the job instead of the process.
func (r *JobRunner) convert(req ConvertRequest) (res *ConvertResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("conversion of %s panicked: %v", req.Input, p)
			res, err = nil, fmt.Errorf("conversion panicked: %v", p)
		}
	}()
	return r.conv.Convert(r.ctx, req)
}

// Get returns a snapshot of the job with the given id.
func (r *JobRunner) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Wait blocks until every submitted job has finished.
func (r *JobRunner) Wait() {
	r.wg.Wait()
}

func (r *JobRunner) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}
