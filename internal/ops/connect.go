package ops

import (
	"context"
	"fmt"
	"time"
)

const connectTimeout = 30 * time.Second

// Connect authenticates against the primary Proxmox endpoint and stores the
// session. It claims the operation slot like every other kind but runs in
// the caller's goroutine: authentication is one round-trip, and the API
// contract returns the node list synchronously. The record is completed
// before Connect returns, so the slot is free again immediately.
func (e *Engine) Connect(ctx context.Context, profile Profile) ([]string, error) {
	if profile.Host == "" {
		return nil, validationf("host is required")
	}
	if profile.Username == "" {
		return nil, validationf("user is required")
	}
	if profile.Password == "" {
		return nil, validationf("password is required")
	}
	if profile.Port == 0 {
		profile.Port = 8006
	}
	if profile.Port < 1 || profile.Port > 65535 {
		return nil, validationf("port %d out of range", profile.Port)
	}

	if err := e.tracker.TryStart(KindConnect); err != nil {
		e.metrics.IncRejected()
		return nil, err
	}

	start := time.Now()
	e.tracker.Begin(KindConnect)
	op := &opCtx{engine: e, kind: KindConnect, ctx: ctx}

	nodes, err := e.runConnect(op, profile)
	if err != nil {
		op.log("error", "Connection failed: %v", err)
		e.tracker.Complete(KindConnect, nil, err)
		e.metrics.ObserveOperation(KindConnect, "failed", time.Since(start))
		return nil, err
	}

	e.tracker.Complete(KindConnect, &ConnectResult{Nodes: nodes}, nil)
	e.metrics.ObserveOperation(KindConnect, "succeeded", time.Since(start))
	return nodes, nil
}

func (e *Engine) runConnect(op *opCtx, profile Profile) ([]string, error) {
	ctx, cancel := context.WithTimeout(op.ctx, connectTimeout)
	defer cancel()

	op.info("Connecting to Proxmox at %s...", profile.Addr())

	hv, err := e.dial(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	infos, err := hv.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	nodes := make([]string, 0, len(infos))
	for _, n := range infos {
		nodes = append(nodes, n.Node)
	}

	e.state.setSession(&session{profile: profile, hv: hv, nodes: nodes})
	op.info("Connected successfully! Found %d node(s)", len(nodes))
	return nodes, nil
}

// Disconnect clears the active connection. In-flight operations keep the
// Hypervisor handle they already captured; they finish or fail on their own.
func (e *Engine) Disconnect() {
	e.state.clearSession()
	e.logbuf.Append("info", "Disconnected from Proxmox server")
}
