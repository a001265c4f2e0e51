package ops

import "context"

// NodeInfo describes one cluster node.
type NodeInfo struct {
	Node   string `json:"node"`
	Status string `json:"status,omitempty"`
}

// StorageEntry describes one storage target on a node.
type StorageEntry struct {
	ID      string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Active  int    `json:"active"`
	Total   int64  `json:"total"`
	Used    int64  `json:"used"`
	Avail   int64  `json:"avail"`
}

// TemplateInfo describes a template VM usable for cloning.
type TemplateInfo struct {
	VMID int    `json:"vmid"`
	Name string `json:"name"`
	Node string `json:"node"`
}

// ISOInfo describes an ISO volume on a storage.
type ISOInfo struct {
	VolID string `json:"volid"`
	Size  int64  `json:"size"`
}

// TaskState is the coarse status of an asynchronous hypervisor task.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// TaskInfo is one poll result for a task handle.
type TaskInfo struct {
	State TaskState
	// Detail carries the exit status or error text when State is TaskFailed.
	Detail string
}

// VMCreateOptions defines the parameters for creating a QEMU VM.
type VMCreateOptions struct {
	VMID     int
	Name     string
	MemoryMB int
	Cores    int
	DiskGB   int
	Storage  string
	Bridge   string
	// CPUType "host" passes through VMX/SVM for nested virtualization.
	CPUType string
	// Agent enables the qemu guest agent device.
	Agent bool
	// SerialConsole wires serial0 as the display, for headless guests.
	SerialConsole bool
	// CloudInit attaches a cloud-init drive with CIUser/CIPassword and DHCP.
	CloudInit  bool
	CIUser     string
	CIPassword string
	// ISO attaches an installer image and boots from it first.
	ISO string
}

// Hypervisor is the call contract against one Proxmox endpoint (primary or
// nested). Lifecycle calls return a task handle (UPID) that the caller polls
// through TaskStatus; DeleteVM normalizes "already absent" into ErrNotFound
// so destroy can treat it as success.
type Hypervisor interface {
	ListNodes(ctx context.Context) ([]NodeInfo, error)
	ListStorage(ctx context.Context, node string) ([]StorageEntry, error)
	ListTemplates(ctx context.Context) ([]TemplateInfo, error)
	ListISOs(ctx context.Context, node, storage string) ([]ISOInfo, error)

	NextVMID(ctx context.Context) (int, error)
	CreateVM(ctx context.Context, node string, opts VMCreateOptions) (string, error)
	StartVM(ctx context.Context, node string, vmid int) (string, error)
	StopVM(ctx context.Context, node string, vmid int) (string, error)
	DeleteVM(ctx context.Context, node string, vmid int) (string, error)
	TaskStatus(ctx context.Context, node, upid string) (TaskInfo, error)
	AgentIP(ctx context.Context, node string, vmid int) (string, error)
}

// DialFunc authenticates against a Proxmox endpoint and returns a live
// Hypervisor. The production implementation lives in internal/proxmox; tests
// inject fakes.
type DialFunc func(ctx context.Context, profile Profile) (Hypervisor, error)

// ProbeFunc checks whether a provisioned guest accepts an SSH login.
type ProbeFunc func(ctx context.Context, addr, user, password string) error
