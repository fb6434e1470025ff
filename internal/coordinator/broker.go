package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"personamux/internal/broker"
	"personamux/internal/fsutil"
	"personamux/internal/process"
)

// Spawner starts the detached broker process. Split out so tests can
// stand in a fake instead of forking.
type Spawner interface {
	StartDetached(argv []string, dir, logPath string) (int, error)
}

const (
	brokerProbeTimeout = 200 * time.Millisecond
	brokerStartTimeout = 3 * time.Second
	brokerStartPoll    = 100 * time.Millisecond
)

// EnsureBroker makes sure a broker for configDir answers on the shared
// socket. A responsive broker bound to a different assistant config
// dir is restarted; a stale pid without a socket is cleaned up first.
func (c *Coordinator) EnsureBroker(configDir string) error {
	socketPath := c.paths.BrokerSocket()
	pidPath := c.paths.BrokerPIDFile()

	if err := fsutil.EnsureDir(c.paths.SharedDir()); err != nil {
		return err
	}
	if err := fsutil.EnsureDir(configDir); err != nil {
		return err
	}

	if broker.Ping(socketPath, brokerProbeTimeout) {
		info, err := broker.Info(socketPath, brokerProbeTimeout)
		if err == nil && info.AssistantConfigDir == configDir {
			return nil
		}
		c.logInfo("broker bound to different config dir, restarting")
		c.stopBrokerByPID(pidPath)
		_ = os.Remove(socketPath)
	} else {
		c.stopBrokerByPID(pidPath)
		_ = process.RemovePIDFile(pidPath)
		_ = os.Remove(socketPath)
	}

	argv := []string{
		"personamux-broker",
		"--socket", socketPath,
		"--repo-root", c.repoRoot,
		"--assistant-config-dir", configDir,
		"--pid-file", pidPath,
		"--session-marker-file", c.paths.SessionMarkerFile(),
	}
	pid, err := c.spawner.StartDetached(argv, c.repoRoot, c.paths.BrokerLogFile())
	if err != nil {
		return fmt.Errorf("start broker: %w", err)
	}
	c.logInfo(fmt.Sprintf("broker spawned, pid %d", pid))

	deadline := time.Now().Add(brokerStartTimeout)
	for time.Now().Before(deadline) {
		if broker.Ping(socketPath, brokerProbeTimeout) {
			return nil
		}
		time.Sleep(brokerStartPoll)
	}
	return fmt.Errorf("broker did not answer on %s", socketPath)
}

// StopBroker terminates the broker and removes a socket nobody is
// listening on anymore.
func (c *Coordinator) StopBroker() {
	c.stopBrokerByPID(c.paths.BrokerPIDFile())
	socketPath := c.paths.BrokerSocket()
	if !broker.Ping(socketPath, brokerProbeTimeout) {
		_ = os.Remove(socketPath)
	}
}

func (c *Coordinator) stopBrokerByPID(pidPath string) {
	pid, err := process.ReadPIDFile(pidPath)
	if err != nil {
		c.logWarn("pid file unreadable", err)
		_ = process.RemovePIDFile(pidPath)
		return
	}
	if pid == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := process.Stop(ctx, pid); err != nil && !errors.Is(err, process.ErrNotRunning) {
		c.logWarn("broker stop failed", err)
	}
	// The broker removes its own pid file on clean shutdown; after a
	// kill it may still be there.
	_ = process.RemovePIDFile(pidPath)
}

func (c *Coordinator) logInfo(message string) {
	if c.logger != nil {
		c.logger.Info(message, nil)
	}
}

func (c *Coordinator) logWarn(message string, cause error) {
	if c.logger == nil {
		return
	}
	fields := map[string]string{}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	c.logger.Warn(message, fields)
}

type execSpawner struct{}

func (execSpawner) StartDetached(argv []string, dir, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedProcAttr()
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap in the background so the child never zombies while this
	// process is still around.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}
