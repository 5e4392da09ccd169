// Package netlink adapts a Linux network interface to connection.Link. Link
// state is read from sysfs; association is delegated to configurable shell
// commands such as `wpa_cli -i wlan0 reconnect`.
package netlink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultSysfsRoot = "/sys/class/net"

type Config struct {
	Interface      string
	AssociateCmd   string
	ReassociateCmd string
	CommandTimeout time.Duration
	SysfsRoot      string
}

type Interface struct {
	name        string
	assocCmd    string
	reassocCmd  string
	timeout     time.Duration
	statePath   string
	carrierPath string
}

func New(cfg Config) *Interface {
	root := cfg.SysfsRoot
	if root == "" {
		root = defaultSysfsRoot
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	return &Interface{
		name:        cfg.Interface,
		assocCmd:    strings.TrimSpace(cfg.AssociateCmd),
		reassocCmd:  strings.TrimSpace(cfg.ReassociateCmd),
		timeout:     cfg.CommandTimeout,
		statePath:   filepath.Join(root, cfg.Interface, "operstate"),
		carrierPath: filepath.Join(root, cfg.Interface, "carrier"),
	}
}

func (i *Interface) Associate(ctx context.Context) error {
	return i.run(ctx, i.assocCmd)
}

func (i *Interface) Reassociate(ctx context.Context) error {
	cmd := i.reassocCmd
	if cmd == "" {
		cmd = i.assocCmd
	}
	return i.run(ctx, cmd)
}

// IsConnected reports operstate "up", or "unknown" with carrier present,
// which some wireless drivers report for an associated link.
func (i *Interface) IsConnected() bool {
	state, err := readTrim(i.statePath)
	if err != nil {
		return false
	}
	switch state {
	case "up":
		return true
	case "unknown":
		carrier, err := readTrim(i.carrierPath)
		return err == nil && carrier == "1"
	}
	return false
}

func (i *Interface) Name() string { return i.name }

func (i *Interface) run(ctx context.Context, command string) error {
	if command == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	slog.Debug("link command done", "interface", i.name, "command", command)
	return nil
}

func readTrim(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
