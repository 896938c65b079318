package deploy

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/r3e-network/agent-core/infrastructure/logging"
	"github.com/r3e-network/agent-core/internal/domain"
)

// sshDialer abstracts ssh.Dial so tests can substitute a fake transport
// without opening a real network connection.
type sshDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (sshClient, error)
}

// sshClient is the subset of *ssh.Client the adapter depends on.
type sshClient interface {
	NewSession() (sshSession, error)
	Close() error
}

// sshSession is the subset of *ssh.Session the adapter depends on.
type sshSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

type realSSHDialer struct{}

func (realSSHDialer) Dial(network, addr string, config *ssh.ClientConfig) (sshClient, error) {
	c, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &realSSHClient{c}, nil
}

type realSSHClient struct{ c *ssh.Client }

func (r *realSSHClient) NewSession() (sshSession, error) {
	s, err := r.c.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}
func (r *realSSHClient) Close() error { return r.c.Close() }

// RemoteShellTarget adapts agents onto a remote host reached over SSH,
// driving the workload via a fixed shell command contract:
// start.sh / stop.sh / restart.sh / status.sh under the agent's remote
// workdir. Host, user, and auth key come from cfg.Deployment.Params.
type RemoteShellTarget struct {
	dialer         sshDialer
	logger         *logging.Logger
	connectTimeout time.Duration
}

// NewRemoteShellTarget constructs the SSH-backed remote-host adapter.
func NewRemoteShellTarget(logger *logging.Logger) *RemoteShellTarget {
	return &RemoteShellTarget{
		dialer:         realSSHDialer{},
		logger:         logger,
		connectTimeout: 10 * time.Second,
	}
}

func (r *RemoteShellTarget) Name() string { return "remote-shell" }

func (r *RemoteShellTarget) clientConfig(cfg domain.AgentConfig) (*ssh.ClientConfig, string, error) {
	host := cfg.Deployment.Params["host"]
	if host == "" {
		return nil, "", fmt.Errorf("deployment.params.host is required for the remote-shell target")
	}
	user := cfg.Deployment.Params["user"]
	if user == "" {
		user = "agent"
	}
	signer, err := ssh.ParsePrivateKey([]byte(cfg.Deployment.Params["privateKey"]))
	if err != nil {
		return nil, "", fmt.Errorf("parsing remote-shell private key: %w", err)
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint — target host keys are not pinned in this adapter
		Timeout:         r.connectTimeout,
	}, host, nil
}

func (r *RemoteShellTarget) run(ctx context.Context, cfg domain.AgentConfig, cmd string) (string, error) {
	clientCfg, addr, err := r.clientConfig(cfg)
	if err != nil {
		return "", err
	}

	client, err := r.dialer.Dial("tcp", addr, clientCfg)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(bytes.TrimSpace(out)), err
}

func (r *RemoteShellTarget) Deploy(ctx context.Context, cfg domain.AgentConfig, sink ProgressSink) DeployResult {
	report := func(phase, msg string) {
		if sink != nil {
			sink(ProgressEvent{Phase: phase, Message: msg, Timestamp: time.Now()})
		}
	}
	report("provisioning", "connecting to remote host")
	report("starting", "invoking start.sh")

	workdir := cfg.Deployment.Params["workdir"]
	if workdir == "" {
		workdir = "."
	}
	if _, err := r.run(ctx, cfg, fmt.Sprintf("cd %s && ./start.sh", workdir)); err != nil {
		return DeployResult{Success: false, Error: err.Error()}
	}
	report("started", "remote process started")
	return DeployResult{Success: true}
}

func (r *RemoteShellTarget) Stop(ctx context.Context, cfg domain.AgentConfig) error {
	workdir := cfg.Deployment.Params["workdir"]
	if workdir == "" {
		workdir = "."
	}
	_, err := r.run(ctx, cfg, fmt.Sprintf("cd %s && ./stop.sh", workdir))
	return err
}

func (r *RemoteShellTarget) Restart(ctx context.Context, cfg domain.AgentConfig) error {
	workdir := cfg.Deployment.Params["workdir"]
	if workdir == "" {
		workdir = "."
	}
	_, err := r.run(ctx, cfg, fmt.Sprintf("cd %s && ./restart.sh", workdir))
	return err
}

// UpdateConfig has no remote-shell equivalent for in-place application, so
// it is equivalent to restart per the Deployment Orchestrator contract.
func (r *RemoteShellTarget) UpdateConfig(ctx context.Context, cfg domain.AgentConfig) error {
	return r.Restart(ctx, cfg)
}

func (r *RemoteShellTarget) GetStatus(ctx context.Context, cfg domain.AgentConfig) (StatusReport, error) {
	workdir := cfg.Deployment.Params["workdir"]
	if workdir == "" {
		workdir = "."
	}
	out, err := r.run(ctx, cfg, fmt.Sprintf("cd %s && ./status.sh", workdir))
	if err != nil {
		return StatusReport{Status: StatusError, HealthStatus: domain.HealthUnhealthy}, err
	}

	status := StatusStopped
	health := domain.HealthUnknown
	if bytes.Contains([]byte(out), []byte("running")) {
		status = StatusRunning
		health = domain.HealthHealthy
	}
	return StatusReport{Status: status, HealthStatus: health}, nil
}
