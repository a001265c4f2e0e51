package ops

import (
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// sshProbe is the default reachability probe: a password-auth SSH dial
// against the guest. Lab guests are throwaway DHCP machines, so host keys
// are not pinned.
func sshProbe(ctx context.Context, addr, user, password string) error {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < cfg.Timeout {
			cfg.Timeout = remain
		}
	}

	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return err
	}
	client := ssh.NewClient(c, chans, reqs)
	return client.Close()
}
