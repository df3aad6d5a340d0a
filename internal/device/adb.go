// File: internal/device/adb.go
package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // screencap output
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
)

// Android key codes for the symbolic names the action protocol accepts.
const (
	KeycodeHome      = 3
	KeycodeBack      = 4
	KeycodeEnter     = 66
	KeycodeBackspace = 67
	KeycodeMenu      = 82
)

// KeyCode maps a symbolic key name to its Android key code. Unrecognized
// names are a local failure, reported to the caller, never a crash.
func KeyCode(name string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "back":
		return KeycodeBack, true
	case "home":
		return KeycodeHome, true
	case "enter":
		return KeycodeEnter, true
	case "backspace":
		return KeycodeBackspace, true
	case "menu":
		return KeycodeMenu, true
	}
	return 0, false
}

var screenSizeRegex = regexp.MustCompile(`(\d+)x(\d+)`)

// ADBDevice implements schemas.Device over the adb command-line transport.
// The screen size is queried once and cached for the session.
type ADBDevice struct {
	cfg    config.DeviceConfig
	logger *zap.Logger

	mu     sync.Mutex
	width  int
	height int

	// runCommand is injectable for tests.
	runCommand func(ctx context.Context, args ...string) ([]byte, error)
}

// NewADBDevice builds the adb adapter. It does not touch the device; the
// first call that needs the screen size will query and cache it.
func NewADBDevice(cfg config.DeviceConfig, logger *zap.Logger) *ADBDevice {
	d := &ADBDevice{
		cfg:    cfg,
		logger: logger.Named("device.adb"),
	}
	d.runCommand = d.execADB
	return d
}

func (d *ADBDevice) execADB(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if d.cfg.DeviceID != "" {
		full = append([]string{"-s", d.cfg.DeviceID}, args...)
	}
	if d.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CommandTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.cfg.ADBPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb %s failed: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ScreenSize returns the cached device resolution, querying `wm size` on
// first use. A malformed reply falls back to the configured resolution so a
// flaky device never stalls a run.
func (d *ADBDevice) ScreenSize(ctx context.Context) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.width > 0 && d.height > 0 {
		return d.width, d.height, nil
	}

	out, err := d.runCommand(ctx, "shell", "wm", "size")
	if err != nil {
		return 0, 0, err
	}

	if m := screenSizeRegex.FindStringSubmatch(string(out)); len(m) == 3 {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		if w > 0 && h > 0 {
			d.width, d.height = w, h
			return w, h, nil
		}
	}

	d.logger.Warn("Could not parse screen size, using fallback",
		zap.String("output", strings.TrimSpace(string(out))),
		zap.Int("fallback_width", d.cfg.FallbackWidth),
		zap.Int("fallback_height", d.cfg.FallbackHeight),
	)
	d.width, d.height = d.cfg.FallbackWidth, d.cfg.FallbackHeight
	return d.width, d.height, nil
}

// ResetScreenSize discards the cached resolution, forcing a fresh query on
// the next ScreenSize call.
func (d *ADBDevice) ResetScreenSize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = 0, 0
}

// CaptureFrame grabs the current screen as PNG via `screencap -p`.
func (d *ADBDevice) CaptureFrame(ctx context.Context) (*schemas.Frame, error) {
	out, err := d.runCommand(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("screen capture produced undecodable image: %w", err)
	}
	return &schemas.Frame{
		PNG:        out,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}

// Tap issues a tap at pixel coordinates.
func (d *ADBDevice) Tap(ctx context.Context, x, y int) error {
	_, err := d.runCommand(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// Swipe issues a swipe between two pixel coordinates.
func (d *ADBDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	_, err := d.runCommand(ctx, "shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(durationMs))
	return err
}

// TypeText injects text through `input text`, escaping characters the adb
// shell transport cannot carry verbatim. The planner never needs to know
// about this encoding.
func (d *ADBDevice) TypeText(ctx context.Context, text string) error {
	_, err := d.runCommand(ctx, "shell", "input", "text", EscapeText(text))
	return err
}

// PressKey injects a key event by Android key code.
func (d *ADBDevice) PressKey(ctx context.Context, keycode int) error {
	_, err := d.runCommand(ctx, "shell", "input", "keyevent", strconv.Itoa(keycode))
	return err
}

// Launch starts the app with the given package id through the launcher.
func (d *ADBDevice) Launch(ctx context.Context, appID string) error {
	_, err := d.runCommand(ctx, "shell", "monkey", "-p", appID, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// GoHome returns to the home screen.
func (d *ADBDevice) GoHome(ctx context.Context) error {
	return d.PressKey(ctx, KeycodeHome)
}

// escapeReplacer rewrites characters that `adb shell input text` either
// swallows or hands to the shell: spaces become %s, shell metacharacters are
// backslash-escaped.
var escapeReplacer = strings.NewReplacer(
	`\`, `\\`,
	" ", "%s",
	`"`, `\"`,
	`'`, `\'`,
	"&", `\&`,
	"<", `\<`,
	">", `\>`,
	"|", `\|`,
	";", `\;`,
	"(", `\(`,
	")", `\)`,
	"$", `\$`,
	"`", "\\`",
)

// EscapeText transforms free text into the form the adb input transport
// accepts.
func EscapeText(text string) string {
	return escapeReplacer.Replace(text)
}
