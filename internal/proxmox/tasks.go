package proxmox

import (
	"context"
	"fmt"
	"strings"
)

// taskStatus represents the status of a Proxmox task.
type taskStatus struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
}

// taskLogEntry represents a single line from the Proxmox task log.
type taskLogEntry struct {
	N int    `json:"n"`
	T string `json:"t"`
}

// fetchTaskLog retrieves the task log from Proxmox for inclusion in error messages.
func (c *Client) fetchTaskLog(ctx context.Context, node, upid string) string {
	path := fmt.Sprintf("/nodes/%s/tasks/%s/log?limit=50", node, upid)
	var entries []taskLogEntry
	if err := c.doRequest(ctx, "GET", path, nil, &entries); err != nil {
		return ""
	}
	var lines []string
	for _, e := range entries {
		if e.T != "" {
			lines = append(lines, e.T)
		}
	}
	return strings.Join(lines, "\n")
}

// TaskResult is one poll of a task UPID. Done is false while the task is
// still running; Failed carries the exit status plus the tail of the task
// log when the task stopped unsuccessfully.
type TaskResult struct {
	Done   bool
	Failed bool
	Detail string
}

// TaskStatus polls a Proxmox task once.
func (c *Client) TaskStatus(ctx context.Context, node, upid string) (TaskResult, error) {
	var ts taskStatus
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", node, upid)
	if err := c.doRequest(ctx, "GET", path, nil, &ts); err != nil {
		return TaskResult{}, fmt.Errorf("polling task %s: %w", upid, err)
	}

	if ts.Status != "stopped" {
		return TaskResult{}, nil
	}
	if ts.ExitStatus != "OK" {
		detail := ts.ExitStatus
		if log := c.fetchTaskLog(ctx, node, upid); log != "" {
			detail += "\n" + log
		}
		return TaskResult{Done: true, Failed: true, Detail: detail}, nil
	}
	return TaskResult{Done: true}, nil
}
