package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

const watchBuffer = 16

// MemoryStore is an in-memory implementation of Store
// Thread-safe for concurrent access
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	watchers map[string]map[chan *schemas.JobStatus]struct{}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Job),
		watchers: make(map[string]map[chan *schemas.JobStatus]struct{}),
	}
}

func (m *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; exists {
		return ErrJobExists
	}
	m.jobs[job.JobID] = copyJob(job)
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrInvalidJobID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

func (m *MemoryStore) UpdateJob(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; !exists {
		return ErrJobNotFound
	}

	job.Updated = time.Now()
	stored := copyJob(job)
	m.jobs[job.JobID] = stored
	m.publishLocked(stored)
	return nil
}

func (m *MemoryStore) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobID]; !exists {
		return ErrJobNotFound
	}
	delete(m.jobs, jobID)
	for ch := range m.watchers[jobID] {
		close(ch)
	}
	delete(m.watchers, jobID)
	return nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, filter *ListFilter) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*Job
	for _, job := range m.jobs {
		if matchesFilter(job, filter) {
			jobs = append(jobs, copyJob(job))
		}
	}

	sortJobs(jobs, filter)
	return paginateJobs(jobs, filter), nil
}

func (m *MemoryStore) UpdateJobStatus(ctx context.Context, jobID string, status schemas.JobState, progress *schemas.Progress) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	now := time.Now()
	job.Status = status
	job.Updated = now
	if progress != nil {
		job.Progress = copyProgress(progress)
	}
	if job.StartedAt == nil && status != schemas.JobStatePending {
		job.StartedAt = &now
	}
	if IsTerminal(status) && job.CompletedAt == nil {
		job.CompletedAt = &now
	}

	m.publishLocked(job)
	return nil
}

func (m *MemoryStore) UpdateJobError(ctx context.Context, jobID string, err *schemas.ErrorInfo) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	job.Error = copyError(err)
	job.Updated = time.Now()
	m.publishLocked(job)
	return nil
}

// Watch subscribes to jobID. The current state is delivered first.
// Slow readers miss intermediate snapshots but always see the terminal one.
func (m *MemoryStore) Watch(ctx context.Context, jobID string) (<-chan *schemas.JobStatus, error) {
	if jobID == "" {
		return nil, ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	ch := make(chan *schemas.JobStatus, watchBuffer)
	ch <- copyJob(job).ToJobStatus()
	if job.IsTerminal() {
		close(ch)
		return ch, nil
	}

	if m.watchers[jobID] == nil {
		m.watchers[jobID] = make(map[chan *schemas.JobStatus]struct{})
	}
	m.watchers[jobID][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[jobID][ch]; ok {
			delete(m.watchers[jobID], ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close closes every open watch
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, set := range m.watchers {
		for ch := range set {
			close(ch)
		}
		delete(m.watchers, id)
	}
	return nil
}

func (m *MemoryStore) publishLocked(job *Job) {
	set := m.watchers[job.JobID]
	if len(set) == 0 {
		return
	}

	status := copyJob(job).ToJobStatus()
	terminal := job.IsTerminal()
	for ch := range set {
		if terminal {
			// make room so the final snapshot is never dropped
			if len(ch) == cap(ch) {
				select {
				case <-ch:
				default:
				}
			}
			ch <- status
			close(ch)
			continue
		}
		select {
		case ch <- status:
		default:
		}
	}
	if terminal {
		delete(m.watchers, job.JobID)
	}
}

func copyJob(job *Job) *Job {
	if job == nil {
		return nil
	}

	c := *job
	c.StartedAt = copyTime(job.StartedAt)
	c.CompletedAt = copyTime(job.CompletedAt)
	c.Progress = copyProgress(job.Progress)
	c.Error = copyError(job.Error)
	c.OutputFiles = slices.Clone(job.OutputFiles)
	c.SkippedSlots = slices.Clone(job.SkippedSlots)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyProgress(p *schemas.Progress) *schemas.Progress {
	if p == nil {
		return nil
	}
	c := *p
	if p.FFmpegProgress != nil {
		fp := *p.FFmpegProgress
		c.FFmpegProgress = &fp
	}
	return &c
}

func copyError(e *schemas.ErrorInfo) *schemas.ErrorInfo {
	if e == nil {
		return nil
	}
	c := *e
	c.Details = maps.Clone(e.Details)
	return &c
}

func matchesFilter(job *Job, filter *ListFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Status) > 0 && !slices.Contains(filter.Status, job.Status) {
		return false
	}
	if filter.UserID != "" && (job.Spec == nil || job.Spec.UserID != filter.UserID) {
		return false
	}
	if filter.CreatedAfter != nil && job.Created.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && job.Created.After(*filter.CreatedBefore) {
		return false
	}
	return true
}

func sortJobs(jobs []*Job, filter *ListFilter) {
	if filter == nil || filter.SortBy == "" {
		// newest first
		sort.Slice(jobs, func(i, j int) bool {
			return jobs[i].Created.After(jobs[j].Created)
		})
		return
	}

	descending := filter.SortOrder == "desc"
	var less func(a, b *Job) bool
	switch filter.SortBy {
	case "updated":
		less = func(a, b *Job) bool { return a.Updated.Before(b.Updated) }
	case "status":
		less = func(a, b *Job) bool { return a.Status < b.Status }
	default:
		less = func(a, b *Job) bool { return a.Created.Before(b.Created) }
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if descending {
			return less(jobs[j], jobs[i])
		}
		return less(jobs[i], jobs[j])
	})
}

func paginateJobs(jobs []*Job, filter *ListFilter) []*Job {
	if filter == nil {
		return jobs
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return []*Job{}
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(jobs) {
		jobs = jobs[:filter.Limit]
	}
	return jobs
}
