package ops

import (
	"fmt"
	"time"
)

// agentIPWindow bounds the best-effort guest IP resolution after the nested
// VM starts. Missing an IP is not a failure; the operator supplies it
// manually in the provisioning step.
const agentIPWindow = 30 * time.Second

// StartCreateNested validates the spec, claims the operation slot and
// creates the nested hypervisor VM in the background.
func (e *Engine) StartCreateNested(spec NestedSpec) error {
	sess, ok := e.state.session()
	if !ok {
		return validationf("not connected to a Proxmox server")
	}

	e.applyNestedDefaults(&spec)

	if spec.Name == "" {
		return validationf("name is required")
	}
	if spec.MemoryMB <= 0 {
		return validationf("memory_mb must be positive")
	}
	if spec.Cores <= 0 {
		return validationf("cores must be positive")
	}
	if spec.DiskGB <= 0 {
		return validationf("disk_gb must be positive")
	}
	if spec.Storage == "" {
		return validationf("storage is required")
	}
	if spec.TargetNode == "" {
		return validationf("node is required")
	}

	hv := sess.hv
	return e.launch(KindCreateNested, func(op *opCtx) (any, error) {
		return op.runCreateNested(hv, spec)
	})
}

func (e *Engine) applyNestedDefaults(spec *NestedSpec) {
	d := e.cfg.Nested
	if spec.Name == "" {
		spec.Name = d.Name
	}
	if spec.MemoryMB == 0 {
		spec.MemoryMB = d.MemoryMB
	}
	if spec.Cores == 0 {
		spec.Cores = d.Cores
	}
	if spec.DiskGB == 0 {
		spec.DiskGB = d.DiskGB
	}
	if spec.Bridge == "" {
		spec.Bridge = d.Bridge
	}
	if spec.Storage == "" {
		spec.Storage = d.Storage
	}
}

func (op *opCtx) runCreateNested(hv Hypervisor, spec NestedSpec) (any, error) {
	op.info("Starting nested Proxmox creation...")

	vmid, err := hv.NextVMID(op.ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating VMID: %w", err)
	}
	op.info("Using VMID: %d", vmid)

	opts := VMCreateOptions{
		VMID:       vmid,
		Name:       spec.Name,
		MemoryMB:   spec.MemoryMB,
		Cores:      spec.Cores,
		DiskGB:     spec.DiskGB,
		Storage:    spec.Storage,
		Bridge:     spec.Bridge,
		CPUType:    "host", // pass through VMX/SVM for nested virt
		Agent:      true,
		CloudInit:  true,
		CIUser:     GuestUser,
		CIPassword: GuestPassword,
		ISO:        spec.ISO,
	}

	op.info("Creating VM %s (%d MB, %d cores, %d GB on %s)",
		spec.Name, spec.MemoryMB, spec.Cores, spec.DiskGB, spec.Storage)

	upid, err := hv.CreateVM(op.ctx, spec.TargetNode, opts)
	if err != nil {
		return nil, fmt.Errorf("creating nested VM: %w", err)
	}
	op.info("Creation task submitted, waiting for completion...")

	if err := op.waitTask(hv, spec.TargetNode, upid, "nested VM creation"); err != nil {
		return nil, err
	}
	op.info("Nested Proxmox VM created with VMID %d", vmid)

	// Record the VM as soon as it exists so destroy can find it even if a
	// later step fails.
	result := NestedResult{VMID: vmid, Name: spec.Name, Node: spec.TargetNode}
	op.engine.state.setNested(result)

	if err := op.startNested(hv, spec.TargetNode, vmid); err != nil {
		// Original behavior: a start failure is a warning, the operator can
		// start the VM from the Proxmox UI.
		op.warn("Could not auto-start VM: %v", err)
		op.warn("Please start the VM manually from the Proxmox UI")
	} else {
		op.info("Nested Proxmox VM started")
	}

	if ip := op.resolveAgentIP(hv, spec.TargetNode, vmid); ip != "" {
		result.IP = ip
		op.engine.state.setNested(result)
		op.info("Nested VM IP resolved: %s", ip)
	} else {
		op.warn("Nested VM IP unresolved; supply it manually when provisioning")
	}

	op.info("Nested Proxmox creation complete!")
	return &result, nil
}

func (op *opCtx) startNested(hv Hypervisor, node string, vmid int) error {
	upid, err := hv.StartVM(op.ctx, node, vmid)
	if err != nil {
		return err
	}
	return op.waitTask(hv, node, upid, "nested VM start")
}

// resolveAgentIP polls the qemu guest agent for a short window. Best-effort:
// an empty return means the agent never answered with a usable address.
func (op *opCtx) resolveAgentIP(hv Hypervisor, node string, vmid int) string {
	deadline := time.Now().Add(agentIPWindow)
	interval := op.engine.cfg.PollInterval()

	for {
		ip, err := hv.AgentIP(op.ctx, node, vmid)
		if err == nil && ip != "" {
			return ip
		}
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-op.ctx.Done():
			return ""
		case <-time.After(interval):
		}
	}
}
