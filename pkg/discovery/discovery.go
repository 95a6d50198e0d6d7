// Package discovery advertises the tracker endpoint over mDNS and lets
// peers on the same LAN locate it without configuration. Peer discovery
// itself stays tracker-mediated; this only finds the tracker.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/CodeWithSiya/PyTorrent/pkg/logger"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type for the tracker endpoint.
	ServiceType = "_pytorrent-tracker._udp"
	// Domain is the local domain for mDNS
	Domain = "local."
)

// ServiceInfo contains information about a discovered service
type ServiceInfo struct {
	InstanceName string
	HostName     string
	Port         int
	IPs          []string
	Meta         map[string]string
}

// Advertiser handles service broadcasting
type Advertiser struct {
	server *zeroconf.Server
}

// Resolver handles service discovery
type Resolver struct {
	resolver *zeroconf.Resolver
}

// NewAdvertiser creates a new service advertiser
func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start begins broadcasting the service
func (a *Advertiser) Start(instanceName string, port int, meta map[string]string) error {
	if instanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceName = "pytorrent-tracker"
		} else {
			instanceName = fmt.Sprintf("pytorrent-tracker-%s", hostname)
		}
	}

	var txtRecords []string
	for k, v := range meta {
		txtRecords = append(txtRecords, fmt.Sprintf("%s=%s", k, v))
	}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		port,
		txtRecords,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	logger.Sugar.Infof("[Discovery] advertising %s on port %d", instanceName, port)
	return nil
}

// Stop halts the broadcast
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// NewResolver creates a new service resolver
func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse looks for tracker instances until ctx expires and streams what
// it finds on the returned channel.
func (r *Resolver) Browse(ctx context.Context) (<-chan ServiceInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	out := make(chan ServiceInfo)

	go func() {
		defer close(out)
		for entry := range entries {
			info := ServiceInfo{
				InstanceName: entry.Instance,
				HostName:     entry.HostName,
				Port:         entry.Port,
				Meta:         make(map[string]string),
			}
			for _, ip := range entry.AddrIPv4 {
				info.IPs = append(info.IPs, ip.String())
			}
			for _, txt := range entry.Text {
				if k, v, found := strings.Cut(txt, "="); found {
					info.Meta[k] = v
				}
			}
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse mDNS: %w", err)
	}
	return out, nil
}

// LookupTracker returns the first tracker endpoint found before ctx
// expires.
func LookupTracker(ctx context.Context) (string, error) {
	resolver, err := NewResolver()
	if err != nil {
		return "", err
	}
	ch, err := resolver.Browse(ctx)
	if err != nil {
		return "", err
	}
	for info := range ch {
		if len(info.IPs) > 0 {
			return fmt.Sprintf("%s:%d", info.IPs[0], info.Port), nil
		}
	}
	return "", fmt.Errorf("no tracker found on the local network")
}
