// internal/prober/prober.go

// Package prober implements the device prober: one ICMP echo probe against
// a device, classified against its thresholds. It sends unprivileged
// datagram-oriented ICMP echoes and falls back to shelling out to the
// system ping binary when the kernel refuses raw/datagram sockets.
package prober

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

var strictIPv4 = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

func isValidIPv4(ip string) bool {
	if !strictIPv4.MatchString(ip) {
		return false
	}
	for _, part := range strings.Split(ip, ".") {
		n := 0
		for _, c := range part {
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// stripPort removes a trailing ":port" from a device IP, if present.
func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

type Prober struct {
	log *logger.Logger

	// echoID seeds the ICMP echo identifier; varying it across a process
	// lifetime avoids collisions with another prober sharing the host.
	echoID int
}

func New(log *logger.Logger) *Prober {
	return &Prober{log: log, echoID: int(time.Now().UnixNano() & 0xffff)}
}

// Probe executes one probe against device and returns a ProbeResult.
// It never returns an error: transient failures classify as "down".
func (p *Prober) Probe(ctx context.Context, device models.Device, thresholds models.Thresholds) models.ProbeResult {
	now := time.Now().UnixMilli()
	ip := stripPort(device.IP)

	if !isValidIPv4(ip) {
		p.log.Error("prober: invalid IPv4 address %q for device %s", device.IP, device.ID)
		return models.ProbeResult{DeviceID: device.ID, Status: models.StatusDown, Timestamp: now}
	}

	timeoutS := 5
	minReply := 3
	if device.Criticality == models.CriticalityCritical {
		timeoutS = 3
		minReply = 2
	}
	count := minReply
	if count < 3 {
		count = 3
	}

	deadline := time.Duration(timeoutS) * time.Second * time.Duration(count+1)
	pctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	rtts, sent, err := p.sendEchoes(pctx, ip, count, time.Duration(timeoutS)*time.Second)
	if err != nil {
		p.log.Warn("prober: %s (%s) echo failed, falling back to system ping: %v", device.ID, ip, err)
		rtts, sent, err = p.systemPing(pctx, ip, count, time.Duration(timeoutS)*time.Second)
		if err != nil {
			p.log.Error("prober: %s (%s) ping fallback failed: %v", device.ID, ip, err)
		}
	}

	if len(rtts) == 0 {
		return models.ProbeResult{DeviceID: device.ID, Status: models.StatusDown, Timestamp: now}
	}

	var sum time.Duration
	for _, r := range rtts {
		sum += r
	}
	latencyMs := float64(sum.Microseconds()) / float64(len(rtts)) / 1000.0
	packetLoss := 100 * (1 - float64(len(rtts))/float64(sent))

	status := classify(latencyMs, packetLoss, thresholds)

	return models.ProbeResult{
		DeviceID:   device.ID,
		Status:     status,
		LatencyMs:  &latencyMs,
		PacketLoss: &packetLoss,
		Timestamp:  now,
	}
}

// Classify applies the given thresholds to an already-measured latency and
// packet loss pair. The push ingestor uses this to classify externally
// collected ping samples identically to a native probe.
func Classify(latencyMs, packetLoss float64, t models.Thresholds) models.Status {
	return classify(latencyMs, packetLoss, t)
}

func classify(latencyMs, packetLoss float64, t models.Thresholds) models.Status {
	if latencyMs <= t.Latency.Good && packetLoss <= t.PacketLoss.Good {
		return models.StatusUp
	}
	if latencyMs <= t.Latency.Degraded && packetLoss <= t.PacketLoss.Degraded {
		return models.StatusDegraded
	}
	return models.StatusDown
}

// sendEchoes sends count unprivileged ICMP echoes, 1s apart, each bounded
// by timeout, and returns the RTTs of every reply received.
func (p *Prober) sendEchoes(ctx context.Context, ip string, count int, timeout time.Duration) ([]time.Duration, int, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, 0, fmt.Errorf("listen icmp: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", ip)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", ip, err)
	}

	var rtts []time.Duration
	sent := 0

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return rtts, sent, ctx.Err()
		default:
		}

		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Code: 0,
			Body: &icmp.Echo{
				ID:   p.echoID & 0xffff,
				Seq:  i,
				Data: []byte("netwatch-probe"),
			},
		}
		wire, err := msg.Marshal(nil)
		if err != nil {
			return rtts, sent, fmt.Errorf("marshal echo: %w", err)
		}

		sent++
		start := time.Now()
		if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: dst.IP}); err != nil {
			continue
		}

		conn.SetReadDeadline(time.Now().Add(timeout))
		reply := make([]byte, 1500)
		n, _, err := conn.ReadFrom(reply)
		if err != nil {
			if i < count-1 {
				time.Sleep(time.Second)
			}
			continue
		}

		parsed, err := icmp.ParseMessage(1, reply[:n])
		if err == nil {
			if _, ok := parsed.Body.(*icmp.Echo); ok && parsed.Type == ipv4.ICMPTypeEchoReply {
				rtts = append(rtts, time.Since(start))
			}
		}

		if i < count-1 {
			time.Sleep(time.Second)
		}
	}

	return rtts, sent, nil
}
