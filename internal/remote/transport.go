package remote

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Output is the caller-visible result of one remote invocation. A non-zero
// ExitCode is business data, not a transport failure.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Transport runs one already-joined command string on a target. The error is
// non-nil only for transport-level failure (dial, auth, channel loss); remote
// command failure is reported through Output.ExitCode with a nil error.
type Transport interface {
	Run(target Target, command string) (Output, error)
}

// SSHTransport dials a fresh connection per invocation. Instances come and go
// between dispatch rounds, so nothing is worth keeping open.
type SSHTransport struct {
	Timeout time.Duration
}

// NewSSHTransport creates a transport with the given dial timeout.
func NewSSHTransport(timeout time.Duration) *SSHTransport {
	return &SSHTransport{Timeout: timeout}
}

// Dial opens an authenticated SSH connection to the target. Host keys are
// not checked; fleet instances are freshly imaged and their keys churn on
// every stop/start cycle.
func Dial(target Target, timeout time.Duration) (*ssh.Client, error) {
	signer, err := loadSigner(target.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(target.Host, "22"), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	return client, nil
}

// Run dials the target, executes the command in one session and captures its
// output.
func (t *SSHTransport) Run(target Target, command string) (Output, error) {
	client, err := Dial(target, t.Timeout)
	if err != nil {
		return Output{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	output := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// The channel worked; the remote command chose to fail.
			output.ExitCode = exitErr.ExitStatus()
			return output, nil
		}
		return output, fmt.Errorf("remote execution channel failed: %w", err)
	}

	return output, nil
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
