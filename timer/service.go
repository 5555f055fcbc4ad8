package timer

import (
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/util"
	"go.uber.org/zap"
)

// FireFunc delivers a deadline firing into the owning workflow's engine
// lane. The engine validates step status and timer generation there, so
// firing is safe to repeat: a stale or raced firing is discarded by the
// single writer, never applied.
type FireFunc func(workflowId string, stepId string, generation int)

// Service arms one deadline per active step. Firing happens in-process
// through a timing wheel; the deadline store keeps every armed deadline
// durable so a restart replays what the wheel forgot. Disarm removes
// the durable entry synchronously, which is what the engine relies on
// when it promises "timer disarmed before the call returns".
type Service struct {
	wheel     *timingwheel.TimingWheel
	deadlines persistence.DeadlineStorage
	fire      FireFunc

	recoveryInterval time.Duration
	recoveryGrace    time.Duration
	stopTick         chan struct{}
	tickWorker       *util.TickWorker
	wg               *sync.WaitGroup
}

func NewService(deadlines persistence.DeadlineStorage, maxDelaySeconds int64, wg *sync.WaitGroup) *Service {
	s := &Service{
		wheel:            timingwheel.NewTimingWheel(time.Second, maxDelaySeconds),
		deadlines:        deadlines,
		recoveryInterval: 5 * time.Second,
		recoveryGrace:    2 * time.Second,
		stopTick:         make(chan struct{}),
		wg:               wg,
	}
	s.tickWorker = util.NewTickWorker("deadline-recovery", s.recoveryInterval, s.stopTick, s.recoverDue, wg)
	return s
}

// SetFireFunc wires the engine's lane entry point. Must be called
// before Start.
func (s *Service) SetFireFunc(fire FireFunc) {
	s.fire = fire
}

func (s *Service) Start() {
	s.wheel.Start()
	s.tickWorker.Start()
}

func (s *Service) Stop() {
	s.tickWorker.Stop()
	s.wheel.Stop()
}

// Arm schedules a firing for the step at the given instant and records
// it durably. Re-arming the same step replaces its durable entry; the
// generation distinguishes the new arming from firings of the old one.
func (s *Service) Arm(workflowId string, stepId string, generation int, at time.Time) error {
	err := s.deadlines.AddDeadline(persistence.DeadlineEntry{
		WorkflowId: workflowId,
		StepId:     stepId,
		Generation: generation,
		FireAt:     at,
	})
	if err != nil {
		return err
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.wheel.AfterFunc(delay, func() {
		s.fire(workflowId, stepId, generation)
	})
	logger.Debug("deadline armed", zap.String("workflow", workflowId), zap.String("step", stepId),
		zap.Int("generation", generation), zap.Time("at", at))
	return nil
}

// Disarm removes the step's durable deadline. The wheel task may still
// fire afterwards; the engine discards it by generation or status.
func (s *Service) Disarm(workflowId string, stepId string) error {
	return s.deadlines.RemoveDeadline(workflowId, stepId)
}

// recoverDue replays deadlines that are overdue beyond the grace
// window: entries armed by a previous process whose wheel tasks were
// lost, or firings the wheel missed.
func (s *Service) recoverDue() {
	due, err := s.deadlines.DueDeadlines(time.Now().Add(-s.recoveryGrace), 128)
	if err != nil {
		logger.Error("error scanning due deadlines", zap.Error(err))
		return
	}
	for _, entry := range due {
		logger.Info("replaying overdue deadline", zap.String("workflow", entry.WorkflowId),
			zap.String("step", entry.StepId), zap.Int("generation", entry.Generation))
		s.fire(entry.WorkflowId, entry.StepId, entry.Generation)
	}
}
