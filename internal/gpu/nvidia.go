package gpu

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
)

const nvidiaSMITimeout = 2 * time.Second

var runCommand = func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(cmdCtx, name, args...).Output()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return "", cmdCtx.Err()
	}
	return string(out), err
}

// NvidiaProbe samples discrete NVIDIA adapters through nvidia-smi.
type NvidiaProbe struct {
	Binary string
}

func (p NvidiaProbe) binary() string {
	if p.Binary == "" {
		return "nvidia-smi"
	}
	return p.Binary
}

func (NvidiaProbe) Name() string { return "nvidia-smi" }

// Detect binds to device index 0. Zero devices is reported as ErrSensorNotFound.
func (p NvidiaProbe) Detect(ctx context.Context) (Device, error) {
	out, err := runCommand(ctx, nvidiaSMITimeout, p.binary(), "--query-gpu=index,name", "--format=csv,noheader")
	if err != nil {
		return Device{}, fmt.Errorf("query devices: %w", err)
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ",", 2)
		if len(parts) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		return Device{Index: idx, Model: strings.TrimSpace(parts[1])}, nil
	}
	return Device{}, hserrors.ErrSensorNotFound
}

func (p NvidiaProbe) Utilization(ctx context.Context, dev Device) (float64, error) {
	out, err := runCommand(ctx, nvidiaSMITimeout, p.binary(),
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits", "-i", strconv.Itoa(dev.Index))
	if err != nil {
		return 0, fmt.Errorf("query utilization: %w", err)
	}
	value := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	util, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("parse utilization %q: %w", value, err)
	}
	return util, nil
}
