package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
)

// Engine owns the operation slot, the operation log, the active connection
// and the lab bookkeeping. Request handlers call its Start* methods and poll
// Status; all hypervisor traffic happens in operation goroutines.
type Engine struct {
	cfg     *config.Config
	dial    DialFunc
	probe   ProbeFunc
	tracker *Tracker
	logbuf  *Log
	metrics *Metrics

	state *labState
}

// Option configures the engine.
type Option func(*Engine)

// WithProbe overrides the guest reachability probe.
func WithProbe(p ProbeFunc) Option {
	return func(e *Engine) { e.probe = p }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine. dial produces an authenticated Hypervisor per
// endpoint; the default reachability probe dials SSH with password auth.
func New(cfg *config.Config, dial DialFunc, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		dial:    dial,
		probe:   sshProbe,
		tracker: NewTracker(),
		logbuf:  NewLog(cfg.Limits.LogCapacity),
		state:   newLabState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Log returns the shared operation log.
func (e *Engine) Log() *Log {
	return e.logbuf
}

// Metrics returns the attached metrics registry, possibly nil.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Status is the poll snapshot served by the API: connection summary (never
// the credential), the current operation record, and the lab inventory.
type Status struct {
	Connected bool            `json:"connected"`
	Profile   *Profile        `json:"connection,omitempty"`
	Nodes     []string        `json:"nodes,omitempty"`
	Operation *Record         `json:"operation,omitempty"`
	NestedVM  *NestedResult   `json:"nested_vm,omitempty"`
	Guests    []ProvisionedVM `json:"guests,omitempty"`
}

// Status returns an immutable snapshot of the engine's shared state.
func (e *Engine) Status() Status {
	st := Status{}

	if sess, ok := e.state.session(); ok {
		st.Connected = true
		p := sess.profile
		p.Password = ""
		st.Profile = &p
		st.Nodes = sess.nodes
	}

	if rec, ok := e.tracker.Current(); ok {
		st.Operation = &rec
	}

	nested, guests := e.state.inventory()
	st.NestedVM = nested
	if len(guests) > 0 {
		st.Guests = guests
	}

	return st
}

// --- quick session reads used by the API surface; not operations ---

// ErrNotConnected rejects session reads before a connect succeeded.
var ErrNotConnected = fmt.Errorf("not connected to a Proxmox server")

func (e *Engine) hypervisor() (Hypervisor, error) {
	sess, ok := e.state.session()
	if !ok {
		return nil, ErrNotConnected
	}
	return sess.hv, nil
}

// Nodes lists the primary cluster's nodes.
func (e *Engine) Nodes(ctx context.Context) ([]NodeInfo, error) {
	hv, err := e.hypervisor()
	if err != nil {
		return nil, err
	}
	return hv.ListNodes(ctx)
}

// Storage lists storage targets for a node on the primary cluster.
func (e *Engine) Storage(ctx context.Context, node string) ([]StorageEntry, error) {
	hv, err := e.hypervisor()
	if err != nil {
		return nil, err
	}
	return hv.ListStorage(ctx, node)
}

// Templates lists template VMs across the primary cluster.
func (e *Engine) Templates(ctx context.Context) ([]TemplateInfo, error) {
	hv, err := e.hypervisor()
	if err != nil {
		return nil, err
	}
	return hv.ListTemplates(ctx)
}

// ISOs lists ISO volumes on a node's storage.
func (e *Engine) ISOs(ctx context.Context, node, storage string) ([]ISOInfo, error) {
	hv, err := e.hypervisor()
	if err != nil {
		return nil, err
	}
	return hv.ListISOs(ctx, node, storage)
}

// --- operation scaffolding ---

// opCtx carries shared plumbing through one operation's execution.
type opCtx struct {
	engine *Engine
	kind   Kind
	ctx    context.Context
}

func (o *opCtx) log(level, format string, args ...any) {
	o.engine.logbuf.Append(level, fmt.Sprintf(format, args...))
}

func (o *opCtx) info(format string, args ...any) { o.log("info", format, args...) }
func (o *opCtx) warn(format string, args ...any) { o.log("warn", format, args...) }

// launch claims the slot for kind and runs fn in a fresh goroutine. The
// triggering request returns as soon as the claim succeeds.
func (e *Engine) launch(kind Kind, fn func(op *opCtx) (any, error)) error {
	if err := e.tracker.TryStart(kind); err != nil {
		e.metrics.IncRejected()
		return err
	}
	go e.execute(kind, fn)
	return nil
}

// execute runs one accepted operation to its terminal phase. Panics are
// recovered into a failed record; nothing escapes to crash the process.
func (e *Engine) execute(kind Kind, fn func(op *opCtx) (any, error)) {
	start := time.Now()
	e.tracker.Begin(kind)
	op := &opCtx{engine: e, kind: kind, ctx: context.Background()}

	result, err := runGuarded(op, fn)
	if err != nil {
		op.log("error", "%s failed: %v", kind, err)
	}
	e.tracker.Complete(kind, result, err)

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	e.metrics.ObserveOperation(kind, outcome, time.Since(start))
}

func runGuarded(op *opCtx, fn func(op *opCtx) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn(op)
}

// waitTask polls a task handle at the configured interval until it reports
// done, fails, or the configured task timeout elapses. Timeout is surfaced
// as a TimeoutError so callers and operators can tell it apart from a task
// the hypervisor itself failed.
func (o *opCtx) waitTask(hv Hypervisor, node, upid, what string) error {
	timeout := o.engine.cfg.TaskTimeout()
	interval := o.engine.cfg.PollInterval()
	deadline := time.Now().Add(timeout)

	for {
		info, err := hv.TaskStatus(o.ctx, node, upid)
		if err != nil {
			return fmt.Errorf("polling %s task: %w", what, err)
		}
		switch info.State {
		case TaskDone:
			return nil
		case TaskFailed:
			return fmt.Errorf("%s task failed: %s", what, info.Detail)
		}

		if time.Now().After(deadline) {
			return &TimeoutError{What: what, Timeout: timeout}
		}

		select {
		case <-o.ctx.Done():
			return o.ctx.Err()
		case <-time.After(interval):
		}
	}
}
