// Package config defines the gateway's declarative schema and the loader
// that turns YAML into a validated, immutable Config tree.
package config

import (
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the root of the validated configuration tree: an ordered
// sequence of independently configured services.
type Config struct {
	Services []*Service
}

// Service binds one or more listeners to a set of routes, plugins, and
// clusters. Listener, cluster, and route names are each unique within the
// service they belong to.
type Service struct {
	Name           string
	Listeners      []*Listener
	ServicePlugins []*PluginInstance
	Routes         []*Route
	Clusters       map[string]*Cluster
}

// Protocol enumerates the listener protocols this core understands.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Listener is an address and protocol the gateway accepts connections on.
type Listener struct {
	Name      string
	Address   string
	Protocol  Protocol
	SSLConfig *SSLConfig // required iff Protocol == ProtocolHTTPS
}

// SSLConfig names the certificate and key files used to terminate TLS on
// an https listener.
type SSLConfig struct {
	CertPath string
	KeyPath  string
}

// Route is a match rule plus the plugin chain and backend cluster applied
// when the rule matches a request.
type Route struct {
	Name         string
	Match        MatchRule
	RoutePlugins []*PluginInstance
	ClusterRef   string
}

// MatchKind enumerates the supported URI match kinds. Exactly one is set
// on a given MatchRule.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchRegexp
)

// MatchRule selects which requests a route applies to. Method and Header
// are optional additional axes; when set, both must agree with the
// request for the rule to match.
type MatchRule struct {
	Kind    MatchKind
	Literal string         // Exact or Prefix value
	Pattern *regexp.Regexp // compiled Regexp value

	Method string            // optional: exact HTTP method, empty means any
	Header map[string]string // optional: header name -> exact value, all must match
}

// PluginInstance names a plugin and the raw YAML fragment passed to its
// constructor. Once instantiated by the registry it carries the opaque
// Plugin value produced by that constructor.
type PluginInstance struct {
	Name      string
	RawConfig yaml.RawMessage
	Plugin    interface{} // filled in by the registry at load time; concrete type is plugin.Plugin
}

// ResolverKind enumerates the supported cluster endpoint resolution
// strategies. Static and Dns are required by the core; Consul and Etcd are
// additional resolvers backed by external service discovery.
type ResolverKind string

const (
	ResolverStatic ResolverKind = "static"
	ResolverDNS    ResolverKind = "dns"
	ResolverConsul ResolverKind = "consul"
	ResolverEtcd   ResolverKind = "etcd"
)

// LbPolicyKind enumerates the supported load-balancing policies.
type LbPolicyKind string

const (
	LbRoundRobin LbPolicyKind = "round_robin"
	LbRandom     LbPolicyKind = "random"
)

// Cluster is a named set of backend endpoints plus a resolution and
// load-balancing policy.
type Cluster struct {
	Name     string
	Resolver ResolverKind
	LbPolicy LbPolicyKind

	Static StaticResolverConfig
	Dns    DnsResolverConfig
	Consul ConsulResolverConfig
	Etcd   EtcdResolverConfig
}

// StaticResolverConfig carries a fixed, non-empty list of socket
// addresses for a Static cluster.
type StaticResolverConfig struct {
	Addresses []string
}

// DnsResolverConfig carries the DNS lookup parameters for a Dns cluster.
type DnsResolverConfig struct {
	Host            string
	Port            int
	RefreshInterval time.Duration // defaults to 10s when zero
}

// ConsulResolverConfig carries the parameters for resolving a cluster's
// endpoints against a Consul catalog entry.
type ConsulResolverConfig struct {
	Address         string // Consul HTTP API address, e.g. "127.0.0.1:8500"
	ServiceName     string
	Tag             string
	OnlyPassing     bool
	RefreshInterval time.Duration
}

// EtcdResolverConfig carries the parameters for resolving a cluster's
// endpoints from a flat JSON-encoded value set under an etcd key prefix.
type EtcdResolverConfig struct {
	Endpoints       []string
	KeyPrefix       string
	DialTimeout     time.Duration
	RefreshInterval time.Duration
}
