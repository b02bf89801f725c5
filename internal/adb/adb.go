// Package adb is the device command channel: it runs adb against one
// device serial.
package adb

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/xkilldash9x/arkpilot/internal/shell"
)

const versionQueryTimeout = 5 * time.Second

// Client runs adb commands against one device.
type Client struct {
	adbPath string
	serial  string
	runner  shell.Runner
	logger  *zap.Logger
}

// New creates a client. An empty serial targets adb's default device.
func New(adbPath, serial string, runner shell.Runner, logger *zap.Logger) *Client {
	if runner == nil {
		runner = shell.OSRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{adbPath: adbPath, serial: serial, runner: runner, logger: logger.Named("adb")}
}

// Exec runs one adb command. The combined output is returned even when the
// command fails.
func (c *Client) Exec(ctx context.Context, args ...string) (string, error) {
	full := make([]string, 0, len(args)+2)
	if c.serial != "" {
		full = append(full, "-s", c.serial)
	}
	full = append(full, args...)

	c.logger.Debug("Execing adb cmd", zap.String("adb", c.adbPath), zap.Strings("args", full))
	raw, err := c.runner.Run(ctx, c.adbPath, full...)
	out := decode(raw)
	c.logger.Debug("adb output", zap.String("output", out))
	if err != nil {
		return out, fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// ExecAll runs each command in order and stops at the first failure.
func (c *Client) ExecAll(ctx context.Context, cmds [][]string) ([]string, error) {
	outs := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		out, err := c.Exec(ctx, cmd...)
		outs = append(outs, out)
		if err != nil {
			return outs, err
		}
	}
	return outs, nil
}

// ForceStop kills the app with the given package name.
func (c *Client) ForceStop(ctx context.Context, pkg string) error {
	_, err := c.Exec(ctx, "shell", "am", "force-stop", pkg)
	return err
}

// GameVersion returns the installed versionName of pkg.
func (c *Client) GameVersion(ctx context.Context, pkg string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionQueryTimeout)
	defer cancel()

	out, err := c.Exec(ctx, "shell", fmt.Sprintf("pm dump %s | grep versionName", pkg))
	if err != nil {
		return "", err
	}
	return parseVersionName(out), nil
}

// Install installs an APK on the device.
func (c *Client) Install(ctx context.Context, apkPath string) error {
	_, err := c.Exec(ctx, "install", "-r", apkPath)
	return err
}

func parseVersionName(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "versionName="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// decode treats output as UTF-8 and falls back to GBK, which Chinese
// Windows builds of adb emit.
func decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
