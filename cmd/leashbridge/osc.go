package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"
)

// ============================================================================
// OSC transport
// ============================================================================
//
// Inbound: VRChat sends avatar parameters to osc.listen_addr as
// /avatar/parameters/<name> messages (sometimes wrapped in bundles).
// Outbound: movement goes to /input/* and parameter writes to
// /avatar/parameters/<name> on osc.send_addr.
// ============================================================================

// OSCClient sends OSC messages to VRChat over UDP.
type OSCClient struct {
	client  *osc.Client
	addr    string
	metrics *Metrics
}

// NewOSCClient creates a client for a host:port send address.
func NewOSCClient(addr string, metrics *Metrics) (*OSCClient, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, err
	}
	return &OSCClient{
		client:  osc.NewClient(host, port),
		addr:    addr,
		metrics: metrics,
	}, nil
}

// SendMovement writes the four movement inputs.
func (c *OSCClient) SendMovement(m MovementOutput) error {
	msgs := []*osc.Message{
		osc.NewMessage(oscInputVertical, m.VerticalOffset),
		osc.NewMessage(oscInputHorizontal, m.HorizontalOffset),
		osc.NewMessage(oscInputLookHorizontal, m.HorizontalLook),
		osc.NewMessage(oscInputRun, m.ShouldRun),
	}
	for _, msg := range msgs {
		if err := c.send(msg); err != nil {
			return err
		}
	}
	return nil
}

// SendParameter writes a single avatar parameter.
func (c *OSCClient) SendParameter(name string, value any) error {
	return c.send(osc.NewMessage(oscAvatarParameterPrefix+name, value))
}

func (c *OSCClient) send(msg *osc.Message) error {
	if err := c.client.Send(msg); err != nil {
		c.metrics.ObserveOSCSendError()
		return fmt.Errorf("send %s to %s: %w", msg.Address, c.addr, err)
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", addr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

// oscReceiver decodes inbound packets into the parameter store.
type oscReceiver struct {
	store   *ParameterStore
	metrics *Metrics
	logger  *slog.Logger
}

// runOSCReceiver listens on addr until ctx is canceled.
func runOSCReceiver(ctx context.Context, addr string, r *oscReceiver) error {
	lc := oscListenConfig()
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("listen osc on %s: %w", addr, err)
	}
	defer conn.Close()

	r.logger.Info("OSC listening", "addr", conn.LocalAddr().String())

	// Closing the socket unblocks ReadFrom.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Debug("OSC listener closed")
				return nil
			}
			return fmt.Errorf("read osc: %w", err)
		}

		pkt, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			r.metrics.ObserveOSCReceived("invalid")
			r.logger.Debug("dropping malformed OSC packet", "from", from, "bytes", n, "error", err)
			continue
		}
		r.handlePacket(pkt)
	}
}

func (r *oscReceiver) handlePacket(pkt osc.Packet) {
	switch p := pkt.(type) {
	case *osc.Message:
		r.handleMessage(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			r.handleMessage(m)
		}
		for _, b := range p.Bundles {
			r.handlePacket(b)
		}
	}
}

func (r *oscReceiver) handleMessage(msg *osc.Message) {
	if msg == nil {
		return
	}

	switch {
	case msg.Address == oscAvatarChange:
		// Parameters from the previous avatar must not drive movement.
		r.store.Reset()
		r.metrics.ObserveOSCReceived("avatar_change")
		r.logger.Info("avatar changed; cleared parameter cache")

	case strings.HasPrefix(msg.Address, oscAvatarParameterPrefix):
		name := strings.TrimPrefix(msg.Address, oscAvatarParameterPrefix)
		if name == "" || len(msg.Arguments) == 0 {
			r.metrics.ObserveOSCReceived("invalid")
			return
		}
		if err := r.store.Set(name, msg.Address, msg.Arguments[0]); err != nil {
			r.metrics.ObserveOSCReceived("invalid")
			r.logger.Debug("ignoring parameter", "error", err)
			return
		}
		r.metrics.ObserveOSCReceived("parameter")

	default:
		r.metrics.ObserveOSCReceived("ignored")
	}
}
