//go:build windows

// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// sshAgentGetter locates a running SSH agent. It is a variable so tests
// can force the agent path on or off.
var sshAgentGetter = getSSHAgent

// getSSHAgent tries Pageant-compatible agents first, then the OpenSSH for
// Windows agent over its named pipe.
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	var conn net.Conn
	var err error
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err = winio.DialPipe(sock, nil)
	} else {
		conn, err = winio.DialPipe(`\\.\pipe\openssh-ssh-agent`, nil)
	}
	if err != nil {
		return nil
	}
	return agent.NewClient(conn)
}
