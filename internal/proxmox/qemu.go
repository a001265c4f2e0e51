package proxmox

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// VMOptions defines the parameters for creating a QEMU VM.
type VMOptions struct {
	VMID          int
	Name          string
	MemoryMB      int
	Cores         int
	DiskGB        int
	Storage       string
	Bridge        string
	CPUType       string
	Agent         bool
	SerialConsole bool
	CloudInit     bool
	CIUser        string
	CIPassword    string
	ISO           string
}

// CreateVM creates a QEMU VM and returns the UPID of the creation task.
func (c *Client) CreateVM(ctx context.Context, node string, opts VMOptions) (string, error) {
	params := url.Values{}
	params.Set("vmid", strconv.Itoa(opts.VMID))
	params.Set("name", opts.Name)
	params.Set("memory", strconv.Itoa(opts.MemoryMB))
	params.Set("cores", strconv.Itoa(opts.Cores))
	params.Set("sockets", "1")
	params.Set("net0", fmt.Sprintf("virtio,bridge=%s", opts.Bridge))
	params.Set("scsihw", "virtio-scsi-single")
	params.Set("scsi0", fmt.Sprintf("%s:%d", opts.Storage, opts.DiskGB))
	params.Set("ostype", "l26")

	if opts.CPUType != "" {
		params.Set("cpu", opts.CPUType)
	}
	if opts.Agent {
		params.Set("agent", "1")
	}
	if opts.SerialConsole {
		params.Set("serial0", "socket")
		params.Set("vga", "serial0")
	}
	if opts.CloudInit {
		params.Set("ide2", fmt.Sprintf("%s:cloudinit", opts.Storage))
		params.Set("ciuser", opts.CIUser)
		params.Set("cipassword", opts.CIPassword)
		params.Set("ipconfig0", "ip=dhcp")
	}
	if opts.ISO != "" {
		params.Set("ide3", fmt.Sprintf("%s,media=cdrom", opts.ISO))
		params.Set("boot", "order=ide3;scsi0")
	} else {
		params.Set("boot", "order=scsi0")
	}

	path := fmt.Sprintf("/nodes/%s/qemu", node)
	var upid string
	if err := c.doRequest(ctx, "POST", path, params, &upid); err != nil {
		return "", fmt.Errorf("creating VM %d: %w", opts.VMID, err)
	}
	return upid, nil
}

// StartVM starts a QEMU VM and returns the task UPID.
func (c *Client) StartVM(ctx context.Context, node string, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/start", node, vmid)
	var upid string
	if err := c.doRequest(ctx, "POST", path, nil, &upid); err != nil {
		return "", fmt.Errorf("starting VM %d: %w", vmid, err)
	}
	return upid, nil
}

// StopVM force-stops a QEMU VM and returns the task UPID.
func (c *Client) StopVM(ctx context.Context, node string, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/stop", node, vmid)
	var upid string
	if err := c.doRequest(ctx, "POST", path, nil, &upid); err != nil {
		return "", fmt.Errorf("stopping VM %d: %w", vmid, err)
	}
	return upid, nil
}

// DeleteVM removes a QEMU VM with its disks and returns the task UPID.
func (c *Client) DeleteVM(ctx context.Context, node string, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d", node, vmid)
	params := url.Values{}
	params.Set("purge", "1")
	params.Set("destroy-unreferenced-disks", "1")

	var upid string
	if err := c.doRequest(ctx, "DELETE", path, params, &upid); err != nil {
		return "", fmt.Errorf("deleting VM %d: %w", vmid, err)
	}
	return upid, nil
}

// NextVMID asks the cluster for the next free VMID.
func (c *Client) NextVMID(ctx context.Context) (int, error) {
	// The endpoint returns the ID as a JSON string.
	var raw string
	if err := c.doRequest(ctx, "GET", "/cluster/nextid", nil, &raw); err != nil {
		return 0, fmt.Errorf("allocating VMID: %w", err)
	}
	vmid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("allocating VMID: unexpected value %q", raw)
	}
	return vmid, nil
}

// VMStatus holds one entry from GET /nodes/{node}/qemu.
type VMStatus struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Template int    `json:"template"`
}

// ListVMs returns all QEMU VMs on a node.
func (c *Client) ListVMs(ctx context.Context, node string) ([]VMStatus, error) {
	path := fmt.Sprintf("/nodes/%s/qemu", node)
	var vms []VMStatus
	if err := c.doRequest(ctx, "GET", path, nil, &vms); err != nil {
		return nil, fmt.Errorf("listing VMs on %s: %w", node, err)
	}
	return vms, nil
}

// agentInterface mirrors one entry of the guest agent network-get-interfaces
// response.
type agentInterface struct {
	Name        string `json:"name"`
	IPAddresses []struct {
		Type    string `json:"ip-address-type"`
		Address string `json:"ip-address"`
	} `json:"ip-addresses"`
}

// AgentIP queries the qemu guest agent for the first non-loopback IPv4
// address. It fails until the agent inside the guest has started.
func (c *Client) AgentIP(ctx context.Context, node string, vmid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/agent/network-get-interfaces", node, vmid)
	var result struct {
		Result []agentInterface `json:"result"`
	}
	if err := c.doRequest(ctx, "GET", path, nil, &result); err != nil {
		return "", fmt.Errorf("querying agent of VM %d: %w", vmid, err)
	}

	for _, iface := range result.Result {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.IPAddresses {
			if addr.Type == "ipv4" && addr.Address != "127.0.0.1" {
				return addr.Address, nil
			}
		}
	}
	return "", fmt.Errorf("VM %d reported no usable IPv4 address", vmid)
}
