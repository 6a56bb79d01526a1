package latency

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// protocolICMP is the IANA protocol number for ICMPv4.
const protocolICMP = 1

// tcpConnectProbe opens and immediately closes a raw TCP connection,
// returning the connect latency in microseconds.
func tcpConnectProbe(ctx context.Context, address string, timeout time.Duration) (float64, error) {
	d := net.Dialer{Timeout: timeout}

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, fmt.Errorf("tcp connect %s: %w", address, err)
	}
	elapsed := time.Since(start)
	conn.Close()

	return float64(elapsed.Microseconds()), nil
}

// icmpEchoProbe sends one echo request and waits for the reply. An
// unprivileged datagram socket is tried first; raw sockets are the
// fallback for systems that allow them.
func icmpEchoProbe(ctx context.Context, host string, timeout time.Duration) (float64, error) {
	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return 0, fmt.Errorf("icmp resolve %s: %w", host, err)
	}

	conn, peer, err := openICMP(dst)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("aqua-speed latency probe"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, peer); err != nil {
		return 0, fmt.Errorf("icmp send %s: %w", host, err)
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return 0, fmt.Errorf("icmp receive %s: %w", host, err)
		}
		reply, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil {
			continue
		}
		if reply.Type == ipv4.ICMPTypeEchoReply {
			return float64(time.Since(start).Microseconds()), nil
		}
	}
}

// openICMP picks the socket flavor and matching peer address.
func openICMP(dst *net.IPAddr) (*icmp.PacketConn, net.Addr, error) {
	if conn, err := icmp.ListenPacket("udp4", "0.0.0.0"); err == nil {
		return conn, &net.UDPAddr{IP: dst.IP}, nil
	}
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, nil, fmt.Errorf("icmp socket: %w", err)
	}
	return conn, dst, nil
}

// httpLatencyProbe measures time to response headers, HTTP/2 first.
// When the transport reports the protocol is unsupported it makes
// exactly one retry over HTTP/1.1 for the same logical probe.
func (p *Prober) httpLatencyProbe(ctx context.Context, rawURL string) (float64, error) {
	v, err := headerLatency(ctx, p.h2Client, rawURL)
	if err != nil && isProtocolUnsupported(err) {
		p.Log.Debug().Str("url", rawURL).Msg("http/2 unsupported, retrying over http/1.1")
		return headerLatency(ctx, p.h1Client, rawURL)
	}
	return v, err
}

// headerLatency times a GET up to the arrival of response headers; the
// body is aborted immediately, so a well-timed abort still counts as a
// successful sample.
func headerLatency(ctx context.Context, client *http.Client, rawURL string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	resp.Body.Close()

	return float64(elapsed.Microseconds()), nil
}

// isProtocolUnsupported classifies transport errors that mean "this
// endpoint cannot speak HTTP/2", as opposed to genuine failures.
func isProtocolUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unsupported scheme") ||
		strings.Contains(msg, "unexpected alpn") ||
		strings.Contains(msg, "bad protocol") ||
		strings.Contains(msg, "protocol not supported") ||
		strings.Contains(msg, "http2: ")
}
