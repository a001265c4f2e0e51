package proxmox

import (
	"context"
	"fmt"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
	"github.com/battlewithbytes/pve-nestlab/internal/ops"
)

// Dialer builds authenticated API clients from connection profiles. One
// Dialer serves every endpoint the service talks to; TLS settings come
// from the service config.
type Dialer struct {
	tlsSkipVerify bool
	tlsCACertPath string
}

// NewDialer creates a Dialer with the given outbound TLS settings.
func NewDialer(cfg config.ProxmoxConfig) *Dialer {
	return &Dialer{
		tlsSkipVerify: cfg.TLSSkipVerify,
		tlsCACertPath: cfg.TLSCACertPath,
	}
}

// Dial authenticates against the endpoint in the profile and returns a
// Manager bound to it. It satisfies ops.DialFunc.
func (d *Dialer) Dial(ctx context.Context, profile ops.Profile) (ops.Hypervisor, error) {
	client, err := NewClient(ClientConfig{
		BaseURL:       fmt.Sprintf("https://%s", profile.Addr()),
		TLSSkipVerify: d.tlsSkipVerify,
		TLSCACertPath: d.tlsCACertPath,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, profile.Username, profile.Password); err != nil {
		return nil, err
	}
	return NewManager(client), nil
}

// Manager adapts the API Client to the ops.Hypervisor interface.
type Manager struct {
	client *Client
}

// compile-time check that Manager implements ops.Hypervisor
var _ ops.Hypervisor = (*Manager)(nil)

// NewManager creates a new Manager wrapping the given Client.
func NewManager(client *Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) ListNodes(ctx context.Context) ([]ops.NodeInfo, error) {
	nodes, err := m.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ops.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, ops.NodeInfo{Node: n.Node, Status: n.Status})
	}
	return out, nil
}

func (m *Manager) ListStorage(ctx context.Context, node string) ([]ops.StorageEntry, error) {
	storages, err := m.client.ListNodeStorages(ctx, node)
	if err != nil {
		return nil, err
	}
	out := make([]ops.StorageEntry, 0, len(storages))
	for _, s := range storages {
		out = append(out, ops.StorageEntry{
			ID:      s.ID,
			Type:    s.Type,
			Content: s.Content,
			Active:  s.Active,
			Total:   s.Total,
			Used:    s.Used,
			Avail:   s.Avail,
		})
	}
	return out, nil
}

// ListTemplates walks every node and collects the VMs flagged as templates.
func (m *Manager) ListTemplates(ctx context.Context) ([]ops.TemplateInfo, error) {
	nodes, err := m.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	var templates []ops.TemplateInfo
	for _, n := range nodes {
		vms, err := m.client.ListVMs(ctx, n.Node)
		if err != nil {
			return nil, err
		}
		for _, vm := range vms {
			if vm.Template == 1 {
				templates = append(templates, ops.TemplateInfo{
					VMID: vm.VMID,
					Name: vm.Name,
					Node: n.Node,
				})
			}
		}
	}
	return templates, nil
}

// ListISOs returns the ISO volumes on one storage.
func (m *Manager) ListISOs(ctx context.Context, node, storage string) ([]ops.ISOInfo, error) {
	content, err := m.client.ListStorageContent(ctx, node, storage)
	if err != nil {
		return nil, err
	}
	var isos []ops.ISOInfo
	for _, c := range content {
		if c.Content == "iso" {
			isos = append(isos, ops.ISOInfo{VolID: c.VolID, Size: c.Size})
		}
	}
	return isos, nil
}

func (m *Manager) NextVMID(ctx context.Context) (int, error) {
	return m.client.NextVMID(ctx)
}

func (m *Manager) CreateVM(ctx context.Context, node string, opts ops.VMCreateOptions) (string, error) {
	return m.client.CreateVM(ctx, node, VMOptions{
		VMID:          opts.VMID,
		Name:          opts.Name,
		MemoryMB:      opts.MemoryMB,
		Cores:         opts.Cores,
		DiskGB:        opts.DiskGB,
		Storage:       opts.Storage,
		Bridge:        opts.Bridge,
		CPUType:       opts.CPUType,
		Agent:         opts.Agent,
		SerialConsole: opts.SerialConsole,
		CloudInit:     opts.CloudInit,
		CIUser:        opts.CIUser,
		CIPassword:    opts.CIPassword,
		ISO:           opts.ISO,
	})
}

func (m *Manager) StartVM(ctx context.Context, node string, vmid int) (string, error) {
	return m.client.StartVM(ctx, node, vmid)
}

func (m *Manager) StopVM(ctx context.Context, node string, vmid int) (string, error) {
	upid, err := m.client.StopVM(ctx, node, vmid)
	if err != nil && IsNotFound(err) {
		return "", ops.ErrNotFound
	}
	return upid, err
}

func (m *Manager) DeleteVM(ctx context.Context, node string, vmid int) (string, error) {
	upid, err := m.client.DeleteVM(ctx, node, vmid)
	if err != nil && IsNotFound(err) {
		return "", ops.ErrNotFound
	}
	return upid, err
}

func (m *Manager) TaskStatus(ctx context.Context, node, upid string) (ops.TaskInfo, error) {
	res, err := m.client.TaskStatus(ctx, node, upid)
	if err != nil {
		return ops.TaskInfo{}, err
	}
	switch {
	case !res.Done:
		return ops.TaskInfo{State: ops.TaskPending}, nil
	case res.Failed:
		return ops.TaskInfo{State: ops.TaskFailed, Detail: res.Detail}, nil
	default:
		return ops.TaskInfo{State: ops.TaskDone}, nil
	}
}

func (m *Manager) AgentIP(ctx context.Context, node string, vmid int) (string, error) {
	return m.client.AgentIP(ctx, node, vmid)
}
