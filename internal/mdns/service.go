// Package mdns advertises the Grimoire server on the local network through Avahi.
package mdns

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/holoplot/go-avahi"
)

const (
	// ServiceType is the DNS-SD service type for Grimoire servers.
	ServiceType = "_grimoire._tcp"

	// APIVersion is the API version advertised in TXT records.
	APIVersion = "v1"
)

// Announcement describes what gets advertised.
type Announcement struct {
	Name    string
	Version string
	Port    int
}

// TXT returns the DNS-SD TXT records for a.
func (a Announcement) TXT() [][]byte {
	return [][]byte{
		[]byte("name=" + a.Name),
		[]byte("version=" + a.Version),
		[]byte("api=" + APIVersion),
	}
}

// publisher registers a service with the local mDNS responder.
type publisher interface {
	Publish(a Announcement) error
	Close()
}

// Service manages mDNS advertisement for the server.
type Service struct {
	connect func() (publisher, error)
	active  publisher
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewService creates a service that publishes through the Avahi daemon on the
// system D-Bus.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{connect: connectAvahi, logger: logger}
}

// Start begins advertising. Errors usually mean no Avahi daemon or no system
// bus (containers, CI) and are safe to treat as non-fatal.
func (s *Service) Start(a Announcement) error {
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("invalid port %d", a.Port)
	}
	if a.Name == "" {
		return errors.New("service name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Close()
		s.active = nil
	}

	p, err := s.connect()
	if err != nil {
		return fmt.Errorf("connect to avahi: %w", err)
	}
	if err := p.Publish(a); err != nil {
		p.Close()
		return fmt.Errorf("publish %s: %w", ServiceType, err)
	}
	s.active = p

	s.logger.Info("mDNS advertisement started",
		"service", ServiceType,
		"port", a.Port,
		"name", a.Name,
	)
	return nil
}

// Running reports whether an advertisement is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Stop withdraws the advertisement. Safe to call multiple times or if not started.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Close()
		s.active = nil
		s.logger.Info("mDNS advertisement stopped")
	}
}

// avahiPublisher holds a private system bus connection and one entry group.
type avahiPublisher struct {
	conn   *dbus.Conn
	server *avahi.Server
	group  *avahi.EntryGroup
}

func connectAvahi() (publisher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	server, err := avahi.ServerNew(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &avahiPublisher{conn: conn, server: server}, nil
}

func (p *avahiPublisher) Publish(a Announcement) error {
	group, err := p.server.EntryGroupNew()
	if err != nil {
		return err
	}
	err = group.AddService(
		avahi.InterfaceUnspec,
		avahi.ProtoUnspec,
		0,
		a.Name,
		ServiceType,
		"local",
		"",
		uint16(a.Port), //nolint:gosec // range checked in Start
		a.TXT(),
	)
	if err != nil {
		p.server.EntryGroupFree(group)
		return err
	}
	if err := group.Commit(); err != nil {
		p.server.EntryGroupFree(group)
		return err
	}
	p.group = group
	return nil
}

func (p *avahiPublisher) Close() {
	if p.group != nil {
		p.server.EntryGroupFree(p.group)
		p.group = nil
	}
	p.server.Close()
	_ = p.conn.Close()
}
