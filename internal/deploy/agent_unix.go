//go:build !windows

// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"
)

// sshAgentGetter locates a running SSH agent. It is a variable so tests
// can force the agent path on or off.
var sshAgentGetter = getSSHAgent

// getSSHAgent connects to the agent named by SSH_AUTH_SOCK, if any.
func getSSHAgent() agent.Agent {
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			return agent.NewClient(conn)
		}
	}
	return nil
}
