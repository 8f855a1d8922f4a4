// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package rtpio

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// MinRecvBufferBytes is the receive buffer floor requested on the ingress
// socket (spec.md §4.1: "at least 25 MiB").
const MinRecvBufferBytes = 25 * 1024 * 1024

// PacketSink receives decoded packets for one subscribed SSRC. Resequencer,
// archive writer, and analytics scheduler all implement it indirectly by
// registering a Callback (spec.md §9: "explicit trait/interface objects").
type PacketSink interface {
	OnPacket(h Header, payload []complex64, wallclockNanos int64)
}

// PacketSinkFunc adapts a function to a PacketSink.
type PacketSinkFunc func(h Header, payload []complex64, wallclockNanos int64)

func (f PacketSinkFunc) OnPacket(h Header, payload []complex64, wallclockNanos int64) {
	f(h, payload, wallclockNanos)
}

type subscription struct {
	channelName string
	sink        PacketSink
}

// Group owns one UDP multicast socket carrying all channels of one SDR
// data group, dispatching decoded packets to per-channel sinks by SSRC
// (spec.md §4.1).
type Group struct {
	log  zerolog.Logger
	conn *net.UDPConn

	mu       sync.RWMutex
	subs     map[uint32]subscription
	unknown  map[uint32]int
	recvBuf  []byte

	closed bool
}

// NewGroup opens (or joins) the multicast group at addr. It first attempts
// to join via the loopback interface, then falls back to joining on all
// interfaces, per spec.md §4.1.
func NewGroup(addr *net.UDPAddr, log zerolog.Logger) (*Group, error) {
	conn, err := joinMulticastLoopbackFirst(addr)
	if err != nil {
		return nil, fmt.Errorf("rtpio: join multicast %s: %w", addr, err)
	}

	if err := setRecvBuffer(conn, MinRecvBufferBytes); err != nil {
		log.Warn().Err(err).Msg("could not raise socket receive buffer")
	}

	g := &Group{
		log:     log.With().Str("mcast", addr.String()).Logger(),
		conn:    conn,
		subs:    make(map[uint32]subscription),
		unknown: make(map[uint32]int),
		recvBuf: make([]byte, 65536),
	}
	return g, nil
}

func joinMulticastLoopbackFirst(addr *net.UDPAddr) (*net.UDPConn, error) {
	lo, err := net.InterfaceByName("lo")
	if err == nil {
		conn, joinErr := net.ListenMulticastUDP("udp", lo, addr)
		if joinErr == nil {
			return conn, nil
		}
	}
	// Fall back to joining on all interfaces.
	return net.ListenMulticastUDP("udp", nil, addr)
}

func setRecvBuffer(conn *net.UDPConn, bytes int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
	if err != nil {
		return err
	}
	return setErr
}

// Subscribe registers channelName's sink for ssrc (spec.md §4.1
// subscribe(ssrc, channel_info, callback)).
func (g *Group) Subscribe(ssrc uint32, channelName string, sink PacketSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[ssrc] = subscription{channelName: channelName, sink: sink}
}

// Unsubscribe removes a channel's registration, e.g. after the SDR
// recreates a channel under a new SSRC.
func (g *Group) Unsubscribe(ssrc uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subs, ssrc)
}

// Run is the network-receive task's main loop: the sole reader of the
// socket, dispatching by SSRC until the socket is closed (spec.md §5).
func (g *Group) Run() error {
	for {
		n, _, err := g.conn.ReadFromUDP(g.recvBuf)
		if err != nil {
			if g.isClosed() {
				return nil
			}
			if isTransient(err) {
				g.log.Warn().Err(err).Msg("transient socket read error")
				continue
			}
			return fmt.Errorf("rtpio: socket read: %w", err)
		}

		wallclock := wallclockNanos()
		h, payload, enc, perr := ParsePacket(g.recvBuf[:n])
		if perr != nil {
			g.log.Debug().Err(perr).Msg("dropping malformed packet")
			continue
		}

		g.mu.RLock()
		sub, ok := g.subs[h.SSRC]
		g.mu.RUnlock()
		if !ok {
			g.mu.Lock()
			g.unknown[h.SSRC]++
			g.mu.Unlock()
			continue
		}

		samples, derr := DecodeIQ(payload, enc)
		if derr != nil {
			g.log.Debug().Err(derr).Str("channel", sub.channelName).Msg("dropping packet with bad payload")
			continue
		}

		sub.sink.OnPacket(h, samples, wallclock)
	}
}

func (g *Group) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// Close stops the receive loop; Run returns nil shortly after.
func (g *Group) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return g.conn.Close()
}

// UnknownSSRCCounts returns a snapshot of packets-discarded-per-unknown-SSRC
// counters, for diagnostics.
func (g *Group) UnknownSSRCCounts() map[uint32]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[uint32]int, len(g.unknown))
	for k, v := range g.unknown {
		out[k] = v
	}
	return out
}

func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
