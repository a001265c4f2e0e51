package ops

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/battlewithbytes/pve-nestlab/internal/naming"
)

// guestBaseVMID is the first VMID assigned inside the nested hypervisor.
// The nested instance is freshly installed, so the range is free.
const guestBaseVMID = 100

// StartProvision validates the request, claims the operation slot and
// populates the nested hypervisor with themed guest VMs in the background.
func (e *Engine) StartProvision(req ProvisionRequest) error {
	if req.NestedHost == "" {
		return validationf("nested_host is required")
	}
	if req.NestedPassword == "" {
		return validationf("nested_password is required")
	}
	if req.NestedUser == "" {
		req.NestedUser = "root@pam"
	}

	min, max := e.cfg.Limits.VMCountMin, e.cfg.Limits.VMCountMax
	if req.VMCount < min || req.VMCount > max {
		return validationf("count must be between %d and %d, got %d", min, max, req.VMCount)
	}

	if req.Theme == "" {
		req.Theme = naming.Random()
	} else if _, ok := naming.Names(req.Theme); !ok {
		return validationf("unknown theme %q", req.Theme)
	}

	return e.launch(KindProvisionVMs, func(op *opCtx) (any, error) {
		return op.runProvision(req)
	})
}

func (op *opCtx) runProvision(req ProvisionRequest) (any, error) {
	names, err := naming.Generate(req.Theme, req.VMCount)
	if err != nil {
		return nil, err
	}
	op.info("Creating %d VMs with theme: %s", req.VMCount, req.Theme)

	// The nested hypervisor is a separate target from the primary session.
	op.info("Connecting to nested Proxmox at %s...", req.NestedHost)
	hv, err := op.engine.dial(op.ctx, Profile{
		Host:     req.NestedHost,
		Port:     8006,
		Username: req.NestedUser,
		Password: req.NestedPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to nested Proxmox: %w", err)
	}

	nodes, err := hv.ListNodes(op.ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nested nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes found in nested Proxmox")
	}
	node := nodes[0].Node
	op.info("Using node: %s", node)

	// Bounded parallelism: a fixed worker count keeps a freshly installed
	// hypervisor from being overwhelmed by a dozen concurrent creates.
	vms := make([]ProvisionedVM, len(names))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := op.engine.cfg.Limits.ProvisionWorkers
	if workers > len(names) {
		workers = len(names)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				vms[i] = op.provisionOne(hv, node, names[i], guestBaseVMID+i, req.NestedHost)
			}
		}()
	}
	for i := range names {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result := &ProvisionResult{Theme: req.Theme, VMs: vms}
	for _, vm := range vms {
		if vm.Failed {
			result.Failed++
			op.engine.metrics.IncVMProvisioned("failed")
		} else {
			result.Succeeded++
			op.engine.metrics.IncVMProvisioned("succeeded")
		}
	}

	op.engine.state.setGuests(vms)

	// Partial success is still success: batch provisioning stays resilient
	// to one bad node. Only a fully failed batch fails the operation.
	if result.Succeeded == 0 {
		return nil, fmt.Errorf("all %d VMs failed to provision", len(vms))
	}
	op.info("Created %d of %d VMs successfully", result.Succeeded, len(vms))
	return result, nil
}

// provisionOne creates, starts and waits on a single guest VM. Failures are
// recorded in the returned entry, never propagated: one bad VM must not
// abort the batch.
func (op *opCtx) provisionOne(hv Hypervisor, node, name string, vmid int, nestedHost string) ProvisionedVM {
	vm := ProvisionedVM{
		Name:          name,
		VMID:          vmid,
		SSHUser:       GuestUser,
		SSHCredential: GuestPassword,
	}
	fail := func(err error) ProvisionedVM {
		op.log("error", "Error creating VM %s: %v", name, err)
		vm.Failed = true
		vm.Error = err.Error()
		return vm
	}

	op.info("Creating VM: %s (VMID: %d)", name, vmid)

	g := op.engine.cfg.Guest
	opts := VMCreateOptions{
		VMID:          vmid,
		Name:          name,
		MemoryMB:      g.MemoryMB,
		Cores:         g.Cores,
		DiskGB:        g.DiskGB,
		Storage:       g.Storage,
		Bridge:        g.Bridge,
		SerialConsole: true,
		CloudInit:     true,
		CIUser:        GuestUser,
		CIPassword:    GuestPassword,
	}

	upid, err := hv.CreateVM(op.ctx, node, opts)
	if err != nil {
		return fail(err)
	}
	if err := op.waitTask(hv, node, upid, "VM "+name+" creation"); err != nil {
		return fail(err)
	}

	if upid, err = hv.StartVM(op.ctx, node, vmid); err != nil {
		return fail(fmt.Errorf("starting: %w", err))
	}
	if err := op.waitTask(hv, node, upid, "VM "+name+" start"); err != nil {
		return fail(err)
	}

	// IP discovery is best-effort; without one we cannot probe SSH and the
	// entry is still a success with a null address.
	if ip := op.resolveAgentIP(hv, node, vmid); ip != "" {
		vm.IP = ip
		if err := op.waitReachable(ip); err != nil {
			op.warn("VM %s has IP %s but SSH never became reachable: %v", name, ip, err)
		}
	}

	op.info("VM %s created successfully", name)
	return vm
}

// waitReachable polls the guest's SSH endpoint until it accepts the fixed
// credentials or the configured per-VM bound elapses.
func (op *opCtx) waitReachable(ip string) error {
	timeout := op.engine.cfg.ReachabilityTimeout()
	interval := op.engine.cfg.PollInterval()
	deadline := time.Now().Add(timeout)
	addr := net.JoinHostPort(ip, strconv.Itoa(22))

	for {
		ctx, cancel := context.WithTimeout(op.ctx, interval*2)
		err := op.engine.probe(ctx, addr, GuestUser, GuestPassword)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{What: "SSH reachability for " + addr, Timeout: timeout}
		}
		select {
		case <-op.ctx.Done():
			return op.ctx.Err()
		case <-time.After(interval):
		}
	}
}
