// Package discovery announces the server on the local network over mDNS and
// logs the other instances it finds.
package discovery

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

const (
	// ServiceType is the mDNS service instances register under.
	ServiceType = "_coedit._tcp"

	domain = "local."

	browseWindow = 15 * time.Second
)

// Peer is another instance seen on the network.
type Peer struct {
	Instance string
	Host     string
	Port     int
}

func (p Peer) String() string {
	return fmt.Sprintf("%s (%s:%d)", p.Instance, p.Host, p.Port)
}

// Service is a registered mDNS service.
type Service struct {
	server *zeroconf.Server
	log    zerolog.Logger

	mu    sync.Mutex
	peers map[string]Peer
}

// Register announces an instance serving on port. txt records are published
// as is.
func Register(port int, txt []string, log zerolog.Logger) (*Service, error) {
	host, _ := os.Hostname()
	instance := fmt.Sprintf("coedit-%s-%d", host, port)

	server, err := zeroconf.Register(instance, ServiceType, domain, port, txt, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to register mDNS service: %w", err)
	}

	log = log.With().Str("component", "discovery").Logger()
	log.Info().Str("instance", instance).Int("port", port).Msg("mDNS service registered")

	return &Service{
		server: server,
		log:    log,
		peers:  make(map[string]Peer),
	}, nil
}

// Browse looks for other instances for a short window or until ctx is done.
func (s *Service) Browse(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return xerrors.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			s.add(entry)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, browseWindow)
	defer cancel()

	err = resolver.Browse(ctx, ServiceType, domain, entries)
	if err != nil {
		return xerrors.Errorf("failed to browse mDNS services: %w", err)
	}

	<-ctx.Done()
	// the resolver closes entries once ctx is done
	<-done

	s.log.Debug().Int("peers", len(s.Peers())).Msg("mDNS browsing finished")
	return nil
}

func (s *Service) add(entry *zeroconf.ServiceEntry) {
	host := entry.HostName
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	}

	p := Peer{Instance: entry.Instance, Host: host, Port: entry.Port}

	s.mu.Lock()
	_, known := s.peers[p.Instance]
	s.peers[p.Instance] = p
	s.mu.Unlock()

	if !known {
		s.log.Info().Stringer("peer", p).Msg("discovered instance")
	}
}

// Peers returns the instances seen so far.
func (s *Service) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Shutdown withdraws the announcement.
func (s *Service) Shutdown() {
	s.server.Shutdown()
}
