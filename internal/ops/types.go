// Package ops is the operation orchestration engine: it serializes the
// long-running lab operations (connect, create-nested, provision-vms,
// destroy), runs them off the request path, and exposes their state and
// narrative to concurrent pollers.
package ops

import (
	"fmt"
	"time"
)

// Operation kinds.
type Kind string

const (
	KindConnect      Kind = "connect"
	KindCreateNested Kind = "create_nested"
	KindProvisionVMs Kind = "provision_vms"
	KindDestroy      Kind = "destroy"
)

// Operation phases. A record in a terminal phase frees the slot.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether the phase permits starting a new operation.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Record is the state of the current (or most recently finished) operation.
// Result payloads are set exactly once at completion and never mutated
// afterwards, so a value copy of Record is a safe snapshot.
type Record struct {
	Kind       Kind       `json:"kind"`
	Phase      Phase      `json:"phase"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
}

// Profile identifies a Proxmox endpoint and how to authenticate against it.
// Held in memory only for the lifetime of the session.
type Profile struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"user"`
	Password string `json:"-"`
	Node     string `json:"node,omitempty"`
}

// Addr returns host:port.
func (p Profile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// NestedSpec describes the nested hypervisor VM to create on the primary node.
type NestedSpec struct {
	Name       string `json:"name"`
	MemoryMB   int    `json:"memory_mb"`
	Cores      int    `json:"cores"`
	DiskGB     int    `json:"disk_gb"`
	Storage    string `json:"storage"`
	Bridge     string `json:"bridge"`
	TargetNode string `json:"node"`
	ISO        string `json:"iso,omitempty"`
}

// ProvisionRequest describes a batch of guest VMs to create inside the
// nested hypervisor. The root credential is used only for the duration of
// the operation.
type ProvisionRequest struct {
	NestedHost     string `json:"nested_host"`
	NestedUser     string `json:"nested_user"`
	NestedPassword string `json:"-"`
	VMCount        int    `json:"count"`
	Theme          string `json:"theme"`
}

// DestroyRequest tears the lab down. All fields are optional: vmid/node
// override the tracked nested VM (useful after a restart orphaned it), and
// the nested credentials enable child-VM cleanup before the parent goes.
type DestroyRequest struct {
	VMID           int    `json:"vmid,omitempty"`
	Node           string `json:"node,omitempty"`
	NestedHost     string `json:"nested_host,omitempty"`
	NestedUser     string `json:"nested_user,omitempty"`
	NestedPassword string `json:"-"`
}

// Fixed guest credentials baked into every cloud-init drive the engine
// creates. The lab is intentionally homogeneous.
const (
	GuestUser     = "guest"
	GuestPassword = "guest"
)

// ConnectResult is the payload of a succeeded connect operation.
type ConnectResult struct {
	Nodes []string `json:"nodes"`
}

// NestedResult is the payload of a succeeded create_nested operation.
type NestedResult struct {
	VMID int    `json:"vmid"`
	Name string `json:"name"`
	Node string `json:"node"`
	// IP is empty when the guest agent never reported one; the operator
	// supplies it manually in the provisioning step.
	IP string `json:"ip,omitempty"`
}

// ProvisionedVM is one entry of a provision_vms result, in request order.
type ProvisionedVM struct {
	Name          string `json:"name"`
	VMID          int    `json:"vmid"`
	IP            string `json:"ip,omitempty"`
	SSHUser       string `json:"ssh_user"`
	SSHCredential string `json:"ssh_credential"`
	Failed        bool   `json:"failed,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProvisionResult is the payload of a provision_vms operation. The
// operation succeeds with partial failures enumerated unless every VM failed.
type ProvisionResult struct {
	Theme     string          `json:"theme"`
	VMs       []ProvisionedVM `json:"vms"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// DestroyResult is the payload of a destroy operation.
type DestroyResult struct {
	GuestsDeleted int  `json:"guests_deleted"`
	NestedDeleted bool `json:"nested_deleted"`
}

// ValidationError rejects bad input before an operation is admitted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports that the single operation slot is taken.
type ConflictError struct {
	Running Kind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("operation %s already in progress", e.Running)
}

// TimeoutError marks a task or reachability wait that exceeded its bound,
// as opposed to a failure reported by the hypervisor itself.
type TimeoutError struct {
	What    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.What, e.Timeout)
}
