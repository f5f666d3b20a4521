// internal/prober/ping_fallback.go

package prober

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

var rttLineRe = regexp.MustCompile(`time[=<]([0-9.]+) ?ms`)

// systemPing shells out to the platform ping binary when icmp.ListenPacket
// is refused (no ping_group_range grant), parsing its textual output for
// per-reply RTTs.
func (p *Prober) systemPing(ctx context.Context, ip string, count int, timeout time.Duration) ([]time.Duration, int, error) {
	args := []string{
		"-c", strconv.Itoa(count),
		"-W", strconv.Itoa(int(timeout.Seconds())),
		ip,
	}
	cmd := exec.CommandContext(ctx, "ping", args...)
	out, runErr := cmd.Output()

	matches := rttLineRe.FindAllStringSubmatch(string(out), -1)
	var rtts []time.Duration
	for _, m := range matches {
		ms, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		rtts = append(rtts, time.Duration(ms*float64(time.Millisecond)))
	}

	if len(rtts) == 0 && runErr != nil {
		return nil, count, fmt.Errorf("system ping: %w", runErr)
	}
	return rtts, count, nil
}
