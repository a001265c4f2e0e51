package ops

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Hypervisor implementations when the target VM
// does not exist. Destroy treats it as success: deleting an already-absent
// resource is the goal state, and the operator may invoke destroy repeatedly.
var ErrNotFound = errors.New("vm not found")

// StartDestroy claims the operation slot and tears the lab down in the
// background: tracked guests first (the parent hosts them), then the nested
// hypervisor VM on the primary node.
func (e *Engine) StartDestroy(req DestroyRequest) error {
	sess, ok := e.state.session()
	if !ok {
		return validationf("not connected to a Proxmox server")
	}
	if req.NestedUser == "" {
		req.NestedUser = "root@pam"
	}
	if req.VMID != 0 && req.Node == "" {
		return validationf("node is required when vmid is given")
	}

	hv := sess.hv
	return e.launch(KindDestroy, func(op *opCtx) (any, error) {
		return op.runDestroy(hv, req)
	})
}

func (op *opCtx) runDestroy(primary Hypervisor, req DestroyRequest) (any, error) {
	result := &DestroyResult{}
	nested, guests := op.engine.state.inventory()

	// Children first. Requires the nested root credential in the request;
	// without it the parent teardown below removes them implicitly. Guests
	// may be tracked without a nested VM when create_nested ran in an
	// earlier process.
	if len(guests) > 0 && req.NestedHost != "" && req.NestedPassword != "" {
		result.GuestsDeleted = op.destroyGuests(guests, req)
	} else if len(guests) > 0 {
		op.info("No nested credentials supplied; guests go down with the nested VM")
	}

	// Resolve which nested VM to remove: explicit override wins, then the
	// tracked one from create_nested.
	vmid, node := req.VMID, req.Node
	if vmid == 0 && nested != nil {
		vmid, node = nested.VMID, nested.Node
	}
	if vmid == 0 {
		op.info("No nested Proxmox VM to destroy; nothing to do")
		op.engine.state.clearLab()
		return result, nil
	}

	op.info("Destroying nested Proxmox VM %d...", vmid)

	op.info("Stopping VM...")
	if upid, err := primary.StopVM(op.ctx, node, vmid); err != nil {
		if errors.Is(err, ErrNotFound) {
			op.info("VM %d already gone", vmid)
			op.engine.state.clearLab()
			result.NestedDeleted = true
			return result, nil
		}
		op.warn("Stop failed (VM might already be stopped): %v", err)
	} else if err := op.waitTask(primary, node, upid, "nested VM stop"); err != nil {
		op.warn("Stop task did not finish cleanly: %v", err)
	}

	op.info("Deleting VM...")
	upid, err := primary.DeleteVM(op.ctx, node, vmid)
	switch {
	case errors.Is(err, ErrNotFound):
		op.info("VM %d already absent", vmid)
	case err != nil:
		return nil, fmt.Errorf("deleting nested VM %d: %w", vmid, err)
	default:
		if err := op.waitTask(primary, node, upid, "nested VM deletion"); err != nil {
			return nil, err
		}
	}

	result.NestedDeleted = true
	op.engine.state.clearLab()
	op.info("Nested Proxmox destroyed successfully!")
	return result, nil
}

// destroyGuests best-effort stops and deletes the tracked guest VMs inside
// the nested hypervisor. Individual failures are logged and skipped; they
// never block the remaining deletions or the parent teardown.
func (op *opCtx) destroyGuests(guests []ProvisionedVM, req DestroyRequest) int {
	op.info("Connecting to nested Proxmox at %s to remove %d guest VM(s)...",
		req.NestedHost, len(guests))

	hv, err := op.engine.dial(op.ctx, Profile{
		Host:     req.NestedHost,
		Port:     8006,
		Username: req.NestedUser,
		Password: req.NestedPassword,
	})
	if err != nil {
		op.warn("Could not reach nested Proxmox: %v; guests go down with the nested VM", err)
		return 0
	}

	nodes, err := hv.ListNodes(op.ctx)
	if err != nil || len(nodes) == 0 {
		op.warn("Could not list nested nodes: %v", err)
		return 0
	}
	node := nodes[0].Node

	deleted := 0
	for _, g := range guests {
		if g.Failed && g.VMID == 0 {
			continue
		}
		if upid, err := hv.StopVM(op.ctx, node, g.VMID); err == nil {
			if err := op.waitTask(hv, node, upid, "guest "+g.Name+" stop"); err != nil {
				op.warn("Stopping %s: %v", g.Name, err)
			}
		}

		upid, err := hv.DeleteVM(op.ctx, node, g.VMID)
		switch {
		case errors.Is(err, ErrNotFound):
			op.info("Guest %s already absent", g.Name)
			deleted++
		case err != nil:
			op.warn("Deleting %s failed: %v", g.Name, err)
		default:
			if err := op.waitTask(hv, node, upid, "guest "+g.Name+" deletion"); err != nil {
				op.warn("Deleting %s: %v", g.Name, err)
				continue
			}
			deleted++
		}
	}
	op.info("Removed %d of %d guest VM(s)", deleted, len(guests))
	return deleted
}
