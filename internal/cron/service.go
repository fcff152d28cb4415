package cron

import (
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named maintenance task run on a cron schedule.
type Job struct {
	Name string
	Expr string
	Run  func() error
}

// JobStatus reports the last execution of a registered job.
type JobStatus struct {
	Name      string
	Expr      string
	LastRunAt time.Time
	LastError string
}

// Service runs registered maintenance jobs on cron expressions
// (with a seconds field).
type Service struct {
	mu       sync.Mutex
	jobs     []Job
	status   map[string]*JobStatus
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	logger   *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	return &Service{
		status:   make(map[string]*JobStatus),
		entryMap: make(map[string]rcron.EntryID),
		logger:   logger.Named("cron"),
	}
}

// Register adds a job. Must be called before Start.
func (s *Service) Register(name, expr string, run func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, Job{Name: name, Expr: expr, Run: run})
	s.status[name] = &JobStatus{Name: name, Expr: expr}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron = rcron.New(rcron.WithSeconds())

	for i := range s.jobs {
		job := s.jobs[i]
		id, err := s.cron.AddFunc(job.Expr, func() {
			s.executeJob(job)
		})
		if err != nil {
			s.logger.Warn("register failed",
				zap.String("job", job.Name),
				zap.String("expr", job.Expr),
				zap.Error(err))
			continue
		}
		s.entryMap[job.Name] = id
	}

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", len(s.entryMap)))
	return nil
}

func (s *Service) executeJob(job Job) {
	err := job.Run()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.status[job.Name]
	if !ok {
		return
	}
	st.LastRunAt = time.Now()
	if err != nil {
		st.LastError = err.Error()
		s.logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
	} else {
		st.LastError = ""
		s.logger.Debug("job done", zap.String("job", job.Name))
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("stop timeout waiting for running jobs")
		}
	}
	s.logger.Info("stopped")
}

// Jobs returns a snapshot of job statuses.
func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		if st, ok := s.status[job.Name]; ok {
			result = append(result, *st)
		}
	}
	return result
}
