package p2p

import (
	"context"
	"fmt"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/rs/zerolog"
)

// MDNSServiceTag is the mDNS service tag for LAN discovery.
const MDNSServiceTag = "paracord.local"

// discovery bundles the optional peer-discovery mechanisms. Either may fail
// to start without taking the host down: a mesh node with only direct dials
// is degraded, not broken.
type discovery struct {
	mdns   mdns.Service
	dht    *dht.IpfsDHT
	logger zerolog.Logger
}

func startDiscovery(ctx context.Context, h host.Host, cfg Config, logger zerolog.Logger) *discovery {
	d := &discovery{logger: logger.With().Str("component", "p2p-discovery").Logger()}

	if cfg.EnableMDNS {
		svc := mdns.NewMdnsService(h, MDNSServiceTag, &autoDialer{host: h, logger: d.logger})
		if err := svc.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("mDNS discovery failed to start")
		} else {
			d.mdns = svc
			d.logger.Info().Msg("mDNS discovery started")
		}
	}

	if cfg.EnableDHT {
		kadDHT, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
		if err != nil {
			d.logger.Warn().Err(err).Msg("DHT discovery failed to start")
			return d
		}
		if err := kadDHT.Bootstrap(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("DHT bootstrap failed")
			_ = kadDHT.Close()
			return d
		}
		d.dht = kadDHT
		d.logger.Info().Msg("DHT discovery started")

		for _, addrStr := range cfg.BootstrapPeers {
			addr, err := peer.AddrInfoFromString(addrStr)
			if err != nil {
				d.logger.Warn().Str("addr", addrStr).Err(err).Msg("invalid bootstrap peer")
				continue
			}
			go func(ai peer.AddrInfo) {
				dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := h.Connect(dialCtx, ai); err != nil {
					d.logger.Debug().Str("peer", ai.ID.String()).Err(err).Msg("bootstrap connect failed")
				}
			}(*addr)
		}
	}

	return d
}

// findPeers advertises the rendezvous string and returns a channel of peers
// advertising the same one.
func (d *discovery) findPeers(ctx context.Context, rendezvous string) (<-chan peer.AddrInfo, error) {
	if d.dht == nil {
		return nil, fmt.Errorf("p2p: DHT discovery not running")
	}

	routingDiscovery := drouting.NewRoutingDiscovery(d.dht)
	if _, err := routingDiscovery.Advertise(ctx, rendezvous); err != nil {
		return nil, fmt.Errorf("p2p: advertise %q: %w", rendezvous, err)
	}
	peerChan, err := routingDiscovery.FindPeers(ctx, rendezvous)
	if err != nil {
		return nil, fmt.Errorf("p2p: find peers for %q: %w", rendezvous, err)
	}
	return peerChan, nil
}

func (d *discovery) stop() {
	if d.mdns != nil {
		if err := d.mdns.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to close mDNS")
		}
	}
	if d.dht != nil {
		if err := d.dht.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to close DHT")
		}
	}
}

// autoDialer connects to every peer mDNS surfaces.
type autoDialer struct {
	host   host.Host
	logger zerolog.Logger
}

func (a *autoDialer) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == a.host.ID() {
		return
	}
	a.logger.Info().Str("peer_id", pi.ID.String()).Msg("mDNS peer discovered")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.host.Connect(ctx, pi); err != nil {
		a.logger.Debug().Err(err).Str("peer_id", pi.ID.String()).Msg("mDNS auto-connect failed")
	}
}
