package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/audit"
	"github.com/signoff-io/signoff/delegation"
	"github.com/signoff-io/signoff/directory"
	"github.com/signoff-io/signoff/event"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/metrics"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/timer"
	"github.com/signoff-io/signoff/util"
	"go.uber.org/zap"
)

type commandType int

const (
	cmdCreate commandType = iota
	cmdDecide
	cmdActivate
	cmdEscalate
	cmdEscalateApply
	cmdResume
	cmdCancel
)

// command is the only way workflow state changes. Human decisions,
// timer firings, activations, and cancellation all arrive as commands
// in the lane owning the workflow id; the lane is the single writer.
type command struct {
	typ        commandType
	workflowId string

	instance  *model.WorkflowInstance // create
	assignees map[string]string       // create: resolved first-index assignees

	stepId        string
	actor         string
	action        model.ActionType
	comments      string
	delegateTo    string
	adminOverride bool

	assignee   string // activate / escalate apply
	generation int    // escalate
	reason     string // cancel

	reply chan commandResult
}

type commandResult struct {
	wf   *model.WorkflowInstance
	step *model.Step
	err  error
}

type activationJob struct {
	workflowId       string
	stepId           string
	originalAssignee string
}

type escalationJob struct {
	workflowId      string
	stepId          string
	generation      int
	currentAssignee string
}

// Engine is the step execution state machine. Commands for a workflow
// are hashed to one of a fixed set of lanes and processed by that
// lane's goroutine, serializing all transitions per workflow while
// different workflows proceed concurrently. Directory and delegation
// I/O runs in the activator worker, never inside a lane.
type Engine struct {
	storage     persistence.Storage
	directory   directory.Client
	delegations *delegation.Resolver
	timers      *timer.Service
	broker      *event.Broker
	audit       audit.Collector

	lanes      []*util.Worker
	activators []*util.Worker
	wg         *sync.WaitGroup
}

type Config struct {
	Lanes            int
	LaneCapacity     int
	ActivatorWorkers int
}

func New(conf Config, storage persistence.Storage, dir directory.Client, delegations *delegation.Resolver, timers *timer.Service, broker *event.Broker, auditor audit.Collector, wg *sync.WaitGroup) *Engine {
	if conf.Lanes <= 0 {
		conf.Lanes = 16
	}
	if conf.LaneCapacity <= 0 {
		conf.LaneCapacity = 256
	}
	if conf.ActivatorWorkers <= 0 {
		conf.ActivatorWorkers = 4
	}
	e := &Engine{
		storage:     storage,
		directory:   dir,
		delegations: delegations,
		timers:      timers,
		broker:      broker,
		audit:       auditor,
		wg:          wg,
	}
	for i := 0; i < conf.Lanes; i++ {
		e.lanes = append(e.lanes, util.NewWorker(fmt.Sprintf("lane-%d", i), wg, e.handleCommand, conf.LaneCapacity))
	}
	for i := 0; i < conf.ActivatorWorkers; i++ {
		e.activators = append(e.activators, util.NewWorker(fmt.Sprintf("activator-%d", i), wg, e.handleResolveJob, conf.LaneCapacity))
	}
	timers.SetFireFunc(e.FireDeadline)
	return e
}

func (e *Engine) Start() {
	for _, lane := range e.lanes {
		lane.Start()
	}
	for _, activator := range e.activators {
		activator.Start()
	}
	e.timers.Start()
}

func (e *Engine) Stop() {
	e.timers.Stop()
	for _, activator := range e.activators {
		activator.Stop()
	}
	for _, lane := range e.lanes {
		lane.Stop()
	}
}

func (e *Engine) lane(workflowId string) *util.Worker {
	h := murmur3.Sum32([]byte(workflowId))
	return e.lanes[int(h)%len(e.lanes)]
}

func (e *Engine) activator(workflowId string) *util.Worker {
	h := murmur3.Sum32([]byte(workflowId))
	return e.activators[int(h)%len(e.activators)]
}

func (e *Engine) submit(cmd *command) commandResult {
	cmd.reply = make(chan commandResult, 1)
	e.lane(cmd.workflowId).Sender() <- cmd
	return <-cmd.reply
}

func (e *Engine) submitAsync(cmd *command) {
	sender := e.lane(cmd.workflowId).Sender()
	go func() {
		sender <- cmd
	}()
}

// CreateWorkflow persists a freshly materialized instance and activates
// its first order index. Delegation for the first index resolves here,
// in the caller's goroutine, before the command enters the lane; a
// delegation cycle aborts creation with nothing persisted.
func (e *Engine) CreateWorkflow(wf *model.WorkflowInstance) (*model.WorkflowInstance, error) {
	assignees := make(map[string]string)
	now := time.Now()
	for _, step := range wf.StepsAtIndex(0) {
		assignee, err := e.delegations.Resolve(step.OriginalAssignee, now)
		if err != nil {
			return nil, err
		}
		assignees[step.Id] = assignee
	}
	res := e.submit(&command{
		typ:        cmdCreate,
		workflowId: wf.Id,
		instance:   wf,
		assignees:  assignees,
	})
	return res.wf, res.err
}

// Decide applies a human decision. The call returns only after the
// transition is durably applied and its events appended. An explicit
// delegation target is itself run through delegation resolution first,
// outside the lane.
func (e *Engine) Decide(workflowId string, stepId string, actor string, action model.ActionType, comments string, delegateTo string, adminOverride bool) (*model.Step, error) {
	if action == model.ACTION_DELEGATE && len(delegateTo) > 0 {
		effective, err := e.delegations.Resolve(delegateTo, time.Now())
		if err != nil {
			return nil, err
		}
		delegateTo = effective
	}
	res := e.submit(&command{
		typ:           cmdDecide,
		workflowId:    workflowId,
		stepId:        stepId,
		actor:         actor,
		action:        action,
		comments:      comments,
		delegateTo:    delegateTo,
		adminOverride: adminOverride,
	})
	return res.step, res.err
}

func (e *Engine) Resume(workflowId string, stepId string, actor string) (*model.Step, error) {
	res := e.submit(&command{
		typ:        cmdResume,
		workflowId: workflowId,
		stepId:     stepId,
		actor:      actor,
	})
	return res.step, res.err
}

// Cancel closes the workflow. Every active step's timer is disarmed
// before the call returns.
func (e *Engine) Cancel(workflowId string, actor string, reason string) error {
	res := e.submit(&command{
		typ:        cmdCancel,
		workflowId: workflowId,
		actor:      actor,
		reason:     reason,
	})
	return res.err
}

// FireDeadline is the timer service's entry into the lanes. It blocks
// until the command is queued, not until it is applied.
func (e *Engine) FireDeadline(workflowId string, stepId string, generation int) {
	e.lane(workflowId).Sender() <- &command{
		typ:        cmdEscalate,
		workflowId: workflowId,
		stepId:     stepId,
		generation: generation,
	}
}

func (e *Engine) handleCommand(a util.Action) error {
	cmd := a.(*command)
	start := time.Now()
	res := e.apply(cmd)
	metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	if cmd.reply != nil {
		cmd.reply <- res
	}
	return nil
}

func (e *Engine) apply(cmd *command) commandResult {
	var wf *model.WorkflowInstance
	if cmd.typ == cmdCreate {
		wf = cmd.instance
	} else {
		var err error
		wf, err = e.storage.GetWorkflow(cmd.workflowId)
		if err != nil {
			return commandResult{err: err}
		}
	}
	t := newTransition(wf, time.Now())
	var step *model.Step
	var err error
	switch cmd.typ {
	case cmdCreate:
		t.applyCreate(cmd.assignees)
	case cmdDecide:
		step, err = t.applyDecide(cmd.stepId, cmd.actor, cmd.action, cmd.comments, cmd.delegateTo, cmd.adminOverride)
	case cmdActivate:
		t.applyActivate(cmd.stepId, cmd.assignee)
	case cmdEscalate:
		t.applyEscalate(cmd.stepId, cmd.generation)
	case cmdEscalateApply:
		t.applyEscalateApply(cmd.stepId, cmd.generation, cmd.assignee)
	case cmdResume:
		step, err = t.applyResume(cmd.stepId, cmd.actor)
	case cmdCancel:
		err = t.applyCancel(cmd.actor, cmd.reason)
	}
	if err != nil {
		e.recordDenial(wf, cmd, err)
		return commandResult{err: err}
	}
	if !t.noop {
		if err := e.storage.SaveWorkflow(wf, t.events); err != nil {
			logger.Error("error persisting transition", zap.String("workflow", wf.Id), zap.Error(err))
			return commandResult{err: api.NewInternalError(api.REASON_STORAGE, "error persisting transition: %v", err)}
		}
		e.applyTimerOps(wf.Id, t)
		e.broker.Publish(t.events)
		e.recordApplied(wf, cmd, t)
	}
	e.dispatchFollowups(wf, t)
	return commandResult{wf: wf, step: step}
}

// applyTimerOps disarms before arming so a decided step's deadline is
// deterministically gone before the lane replies to the caller.
func (e *Engine) applyTimerOps(workflowId string, t *transition) {
	for _, stepId := range t.disarms {
		if err := e.timers.Disarm(workflowId, stepId); err != nil {
			logger.Error("error disarming deadline", zap.String("workflow", workflowId), zap.String("step", stepId), zap.Error(err))
		}
	}
	for _, arm := range t.arms {
		if err := e.timers.Arm(workflowId, arm.stepId, arm.generation, arm.at); err != nil {
			logger.Error("error arming deadline", zap.String("workflow", workflowId), zap.String("step", arm.stepId), zap.Error(err))
		}
	}
}

func (e *Engine) dispatchFollowups(wf *model.WorkflowInstance, t *transition) {
	for _, job := range t.toActivate {
		job := job
		go func() {
			e.activator(job.workflowId).Sender() <- job
		}()
	}
	if t.escalateJob != nil {
		job := *t.escalateJob
		go func() {
			e.activator(job.workflowId).Sender() <- job
		}()
	}
	for _, stepId := range t.systemApprove {
		e.submitAsync(&command{
			typ:        cmdDecide,
			workflowId: wf.Id,
			stepId:     stepId,
			actor:      model.SYSTEM_ACTOR,
			action:     model.ACTION_APPROVE,
			comments:   "auto-approved below threshold",
		})
	}
}

// handleResolveJob runs the I/O half of activation and escalation in
// the activator worker: delegation walks and manager lookups never
// block a lane.
func (e *Engine) handleResolveJob(a util.Action) error {
	switch job := a.(type) {
	case activationJob:
		assignee, err := e.delegations.Resolve(job.originalAssignee, time.Now())
		if err != nil {
			// fail open to the unresolved assignee; the degradation is
			// auditable rather than the workflow stalling
			logger.Error("delegation resolution failed, keeping original assignee",
				zap.String("workflow", job.workflowId), zap.String("step", job.stepId), zap.Error(err))
			e.audit.RecordDenied(job.workflowId, job.stepId, job.originalAssignee, "resolve_delegation", err.Error())
			assignee = job.originalAssignee
		}
		e.lane(job.workflowId).Sender() <- &command{
			typ:        cmdActivate,
			workflowId: job.workflowId,
			stepId:     job.stepId,
			assignee:   assignee,
		}
	case escalationJob:
		entry, err := e.directory.Resolve(context.Background(), job.currentAssignee)
		if err != nil {
			// transient directory failure: drop the job, the durable
			// deadline is still armed and recovery re-fires it
			logger.Error("manager lookup failed, escalation postponed",
				zap.String("workflow", job.workflowId), zap.String("step", job.stepId), zap.Error(err))
			return nil
		}
		newAssignee := ""
		if entry.ManagerId != "" {
			newAssignee, err = e.delegations.Resolve(entry.ManagerId, time.Now())
			if err != nil {
				newAssignee = entry.ManagerId
			}
		}
		e.lane(job.workflowId).Sender() <- &command{
			typ:        cmdEscalateApply,
			workflowId: job.workflowId,
			stepId:     job.stepId,
			generation: job.generation,
			assignee:   newAssignee,
		}
	}
	return nil
}

func (e *Engine) recordApplied(wf *model.WorkflowInstance, cmd *command, t *transition) {
	e.audit.RecordApplied(wf.Id, cmd.stepId, cmd.actor, commandName(cmd))
	metrics.EventsPublished.Add(float64(len(t.events)))
	switch cmd.typ {
	case cmdCreate:
		metrics.ActiveWorkflows.Inc()
	case cmdDecide:
		metrics.DecisionsTotal.WithLabelValues(string(cmd.action), "applied").Inc()
	case cmdEscalateApply:
		metrics.EscalationsTotal.Inc()
	}
	if wf.Status.IsTerminal() {
		metrics.ActiveWorkflows.Dec()
		metrics.WorkflowsCompleted.WithLabelValues(string(wf.Status)).Inc()
	}
}

// recordDenial writes the denied command to the audit trail and, while
// the workflow is still open, appends a decision_denied event so the
// denial is visible to event consumers too.
func (e *Engine) recordDenial(wf *model.WorkflowInstance, cmd *command, denial error) {
	e.audit.RecordDenied(wf.Id, cmd.stepId, cmd.actor, commandName(cmd), denial.Error())
	if cmd.typ == cmdDecide {
		metrics.DecisionsTotal.WithLabelValues(string(cmd.action), "denied").Inc()
	}
	if wf.Status.IsTerminal() || cmd.typ != cmdDecide {
		return
	}
	t := newTransition(wf, time.Now())
	t.emit(model.EVENT_DECISION_DENIED, cmd.stepId, cmd.actor, map[string]any{
		"action": string(cmd.action),
		"reason": denial.Error(),
	})
	if err := e.storage.SaveWorkflow(wf, t.events); err != nil {
		logger.Error("error persisting denial event", zap.String("workflow", wf.Id), zap.Error(err))
		return
	}
	e.broker.Publish(t.events)
}

func commandName(cmd *command) string {
	switch cmd.typ {
	case cmdCreate:
		return "create"
	case cmdDecide:
		return string(cmd.action)
	case cmdActivate:
		return "activate"
	case cmdEscalate, cmdEscalateApply:
		return "escalate"
	case cmdResume:
		return "resume"
	case cmdCancel:
		return "cancel"
	}
	return "unknown"
}
