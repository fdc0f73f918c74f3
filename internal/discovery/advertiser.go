package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the DNS-SD service type advertised for the server
	DefaultService = "_subwriter._tcp"
	// DefaultDomain is the mDNS domain
	DefaultDomain = "local."
)

// Config contains advertisement settings
type Config struct {
	InstanceName string
	Service      string
	Domain       string
	Port         int
	Path         string
	Version      string
	SampleRate   int
}

// shutdowner is satisfied by *zeroconf.Server
type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// Advertiser publishes one service instance until Shutdown
type Advertiser struct {
	config   Config
	logger   *slog.Logger
	register registerFunc

	mu     sync.Mutex
	server shutdowner
}

// NewAdvertiser validates config and fills in defaults
func NewAdvertiser(config Config, logger *slog.Logger) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid advertised port: %d", config.Port)
	}
	if config.Service == "" {
		config.Service = DefaultService
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if config.InstanceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "subwriter"
		}
		config.InstanceName = host
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Advertiser{
		config:   config,
		logger:   logger,
		register: zeroconfRegister,
	}, nil
}

// TXT returns the TXT records describing the endpoint
func (a *Advertiser) TXT() []string {
	txt := []string{}
	if a.config.Path != "" {
		txt = append(txt, "path="+a.config.Path)
	}
	if a.config.Version != "" {
		txt = append(txt, "version="+a.config.Version)
	}
	if a.config.SampleRate > 0 {
		txt = append(txt, "sample_rate="+strconv.Itoa(a.config.SampleRate))
	}
	return txt
}

// Start registers the service. Calling Start twice is an error.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("advertiser already started")
	}

	server, err := a.register(a.config.InstanceName, a.config.Service, a.config.Domain, a.config.Port, a.TXT())
	if err != nil {
		return fmt.Errorf("mdns register failed: %w", err)
	}
	a.server = server

	a.logger.Info("Service advertised",
		slog.String("instance", a.config.InstanceName),
		slog.String("service", a.config.Service),
		slog.String("domain", a.config.Domain),
		slog.Int("port", a.config.Port))
	return nil
}

// Shutdown withdraws the advertisement
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("Service advertisement withdrawn")
}
