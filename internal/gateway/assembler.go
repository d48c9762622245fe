package gateway

import (
	"fmt"

	"github.com/wudi/edgegateway/internal/config"
)

// ServiceSet is the live, running form of a validated config.Config: one
// service runtime per configured service, plus the flat list of listener
// bindings to open.
type ServiceSet struct {
	services []*service
	bindings []binding
}

// binding pairs a configured listener with the service runtime that
// handles requests arriving on it.
type binding struct {
	listener *config.Listener
	svc      *service
}

// Build turns a validated Config into a ServiceSet: it resolves every
// service's clusters, compiles its route matcher, and records one
// binding per listener.
func Build(cfg *config.Config) (*ServiceSet, error) {
	set := &ServiceSet{}
	for _, scfg := range cfg.Services {
		svc, err := newService(scfg)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", scfg.Name, err)
		}
		set.services = append(set.services, svc)
		for _, l := range scfg.Listeners {
			set.bindings = append(set.bindings, binding{listener: l, svc: svc})
		}
	}
	return set, nil
}

// Close releases every service's background resources. Call once after
// all listeners have stopped accepting connections.
func (s *ServiceSet) Close() {
	for _, svc := range s.services {
		svc.Close()
	}
}
