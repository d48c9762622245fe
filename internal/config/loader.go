package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/wudi/edgegateway/internal/gwerrors"
	"github.com/wudi/edgegateway/internal/plugin"
)

// Loader reads a YAML configuration file, expands environment references,
// and produces a fully validated Config tree.
type Loader struct {
	envPattern *regexp.Regexp
	registry   *plugin.Registry
}

// NewLoader creates a configuration loader bound to the given plugin
// registry. The registry is consulted while validating plugin instances so
// a config referencing an unregistered plugin name fails at load time.
func NewLoader(registry *plugin.Registry) *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		registry:   registry,
	}
}

// Load reads the file at path and parses it as described by Parse.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse expands ${VAR} environment references in the raw bytes, decodes
// the result into the YAML DTO schema, and converts and validates it into
// a Config tree. The loader is total: it returns either a fully valid
// Config or an error identifying the offending field, a
// *gwerrors.PluginConstructError when a plugin constructor rejects its
// config and a *gwerrors.ConfigError otherwise.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	var doc yamlDocument
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, &gwerrors.ConfigError{Message: "failed to parse YAML", Cause: err}
	}

	return l.build(&doc)
}

func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// --- YAML DTO schema -------------------------------------------------
//
// The wire schema is decoded into these plain structs (duration and
// address fields as strings) before being converted to the canonical
// Config types in §3. Keeping the two separate means only this file needs
// to know about YAML tags and string-encoded durations.

type yamlDocument struct {
	Services []yamlService `yaml:"services"`
}

type yamlService struct {
	Name           string             `yaml:"name"`
	Listeners      []yamlListener     `yaml:"listeners"`
	ServicePlugins []yamlPlugin       `yaml:"service_plugins"`
	Routes         []yamlRoute        `yaml:"routes"`
	Clusters       []yamlCluster      `yaml:"clusters"`
}

type yamlListener struct {
	Name     string        `yaml:"name"`
	Address  string        `yaml:"address"`
	Protocol string        `yaml:"protocol"`
	SSL      *yamlSSLConfig `yaml:"ssl_config"`
}

type yamlSSLConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

type yamlRoute struct {
	Name         string       `yaml:"name"`
	Match        yamlMatch    `yaml:"match"`
	RoutePlugins []yamlPlugin `yaml:"route_plugins"`
	ClusterRef   string       `yaml:"cluster_ref"`
}

type yamlMatch struct {
	Exact   string            `yaml:"exact"`
	Prefix  string            `yaml:"prefix"`
	Regexp  string            `yaml:"regexp"`
	Method  string            `yaml:"method"`
	Header  map[string]string `yaml:"header"`
}

type yamlPlugin struct {
	Name   string          `yaml:"name"`
	Config yaml.RawMessage `yaml:"config"`
}

type yamlCluster struct {
	Name     string `yaml:"name"`
	Resolver string `yaml:"resolver"`
	LbPolicy string `yaml:"lb_policy"`

	Static *yamlStaticResolver `yaml:"static"`
	Dns    *yamlDnsResolver    `yaml:"dns"`
	Consul *yamlConsulResolver `yaml:"consul"`
	Etcd   *yamlEtcdResolver   `yaml:"etcd"`
}

type yamlStaticResolver struct {
	Addresses []string `yaml:"addresses"`
}

type yamlDnsResolver struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	RefreshInterval string `yaml:"refresh_interval"`
}

type yamlConsulResolver struct {
	Address         string `yaml:"address"`
	ServiceName     string `yaml:"service_name"`
	Tag             string `yaml:"tag"`
	OnlyPassing     bool   `yaml:"only_passing"`
	RefreshInterval string `yaml:"refresh_interval"`
}

type yamlEtcdResolver struct {
	Endpoints       []string `yaml:"endpoints"`
	KeyPrefix       string   `yaml:"key_prefix"`
	DialTimeout     string   `yaml:"dial_timeout"`
	RefreshInterval string   `yaml:"refresh_interval"`
}

// --- DTO -> domain conversion and validation --------------------------

func (l *Loader) build(doc *yamlDocument) (*Config, error) {
	cfg := &Config{}
	for si, ys := range doc.Services {
		svcPath := fmt.Sprintf("services[%d]", si)
		svc, err := l.buildService(svcPath, ys)
		if err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, svc)
	}
	return cfg, nil
}

func (l *Loader) buildService(path string, ys yamlService) (*Service, error) {
	if ys.Name == "" {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".name", Message: "service name is required"}
	}
	svc := &Service{Name: ys.Name, Clusters: make(map[string]*Cluster)}

	listenerNames := make(map[string]bool)
	listenerAddrs := make(map[string]bool)
	for i, yl := range ys.Listeners {
		lp := fmt.Sprintf("%s.listeners[%d]", path, i)
		ln, err := l.buildListener(lp, yl)
		if err != nil {
			return nil, err
		}
		if listenerNames[ln.Name] {
			return nil, &gwerrors.ConfigError{FieldPath: lp + ".name", Message: fmt.Sprintf("duplicate listener name %q", ln.Name)}
		}
		listenerNames[ln.Name] = true
		if listenerAddrs[ln.Address] {
			return nil, &gwerrors.ConfigError{FieldPath: lp + ".address", Message: fmt.Sprintf("duplicate listener address %q within service", ln.Address)}
		}
		listenerAddrs[ln.Address] = true
		svc.Listeners = append(svc.Listeners, ln)
	}

	for i, yc := range ys.Clusters {
		cp := fmt.Sprintf("%s.clusters[%d]", path, i)
		c, err := l.buildCluster(cp, yc)
		if err != nil {
			return nil, err
		}
		if _, exists := svc.Clusters[c.Name]; exists {
			return nil, &gwerrors.ConfigError{FieldPath: cp + ".name", Message: fmt.Sprintf("duplicate cluster name %q", c.Name)}
		}
		svc.Clusters[c.Name] = c
	}

	for i, yp := range ys.ServicePlugins {
		pp := fmt.Sprintf("%s.service_plugins[%d]", path, i)
		pi, err := l.buildPlugin(pp, yp)
		if err != nil {
			return nil, err
		}
		svc.ServicePlugins = append(svc.ServicePlugins, pi)
	}

	routeNames := make(map[string]bool)
	for i, yr := range ys.Routes {
		rp := fmt.Sprintf("%s.routes[%d]", path, i)
		r, err := l.buildRoute(rp, yr)
		if err != nil {
			return nil, err
		}
		if routeNames[r.Name] {
			return nil, &gwerrors.ConfigError{FieldPath: rp + ".name", Message: fmt.Sprintf("duplicate route name %q", r.Name)}
		}
		routeNames[r.Name] = true
		if _, ok := svc.Clusters[r.ClusterRef]; !ok {
			return nil, &gwerrors.ConfigError{FieldPath: rp + ".cluster_ref", Message: fmt.Sprintf("cluster_ref %q not found in service %q", r.ClusterRef, svc.Name)}
		}
		svc.Routes = append(svc.Routes, r)
	}

	return svc, nil
}

func (l *Loader) buildListener(path string, yl yamlListener) (*Listener, error) {
	if yl.Name == "" {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".name", Message: "listener name is required"}
	}
	if _, _, err := net.SplitHostPort(yl.Address); err != nil {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".address", Message: "must be host:port", Cause: err}
	}
	var proto Protocol
	switch yl.Protocol {
	case "http":
		proto = ProtocolHTTP
	case "https":
		proto = ProtocolHTTPS
	default:
		return nil, &gwerrors.ConfigError{FieldPath: path + ".protocol", Message: fmt.Sprintf("must be http or https, got %q", yl.Protocol)}
	}
	ln := &Listener{Name: yl.Name, Address: yl.Address, Protocol: proto}
	if proto == ProtocolHTTPS {
		if yl.SSL == nil || yl.SSL.CertPath == "" || yl.SSL.KeyPath == "" {
			return nil, &gwerrors.ConfigError{FieldPath: path + ".ssl_config", Message: "cert_path and key_path are required for protocol https"}
		}
		ln.SSLConfig = &SSLConfig{CertPath: yl.SSL.CertPath, KeyPath: yl.SSL.KeyPath}
	}
	return ln, nil
}

func (l *Loader) buildPlugin(path string, yp yamlPlugin) (*PluginInstance, error) {
	if yp.Name == "" {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".name", Message: "plugin name is required"}
	}
	ctor, ok := l.registry.Lookup(yp.Name)
	if !ok {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".name", Message: fmt.Sprintf("plugin %q is not registered", yp.Name)}
	}
	cfgBytes := yp.Config
	if len(cfgBytes) == 0 {
		cfgBytes = yaml.RawMessage("{}")
	}
	p, err := ctor(cfgBytes)
	if err != nil {
		return nil, &gwerrors.PluginConstructError{Plugin: yp.Name, FieldPath: path + ".config", Cause: err}
	}
	return &PluginInstance{Name: yp.Name, RawConfig: cfgBytes, Plugin: p}, nil
}

func (l *Loader) buildRoute(path string, yr yamlRoute) (*Route, error) {
	if yr.Name == "" {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".name", Message: "route name is required"}
	}
	match, err := l.buildMatch(path+".match", yr.Match)
	if err != nil {
		return nil, err
	}
	if yr.ClusterRef == "" {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".cluster_ref", Message: "cluster_ref is required"}
	}
	route := &Route{Name: yr.Name, Match: match, ClusterRef: yr.ClusterRef}
	for i, yp := range yr.RoutePlugins {
		pp := fmt.Sprintf("%s.route_plugins[%d]", path, i)
		pi, err := l.buildPlugin(pp, yp)
		if err != nil {
			return nil, err
		}
		route.RoutePlugins = append(route.RoutePlugins, pi)
	}
	return route, nil
}

func (l *Loader) buildMatch(path string, ym yamlMatch) (MatchRule, error) {
	set := 0
	if ym.Exact != "" {
		set++
	}
	if ym.Prefix != "" {
		set++
	}
	if ym.Regexp != "" {
		set++
	}
	if set != 1 {
		return MatchRule{}, &gwerrors.ConfigError{FieldPath: path, Message: "exactly one of exact, prefix, or regexp must be set"}
	}
	rule := MatchRule{Method: ym.Method, Header: ym.Header}
	switch {
	case ym.Exact != "":
		rule.Kind = MatchExact
		rule.Literal = ym.Exact
	case ym.Prefix != "":
		rule.Kind = MatchPrefix
		rule.Literal = ym.Prefix
	default:
		rule.Kind = MatchRegexp
		re, err := regexp.Compile(ym.Regexp)
		if err != nil {
			return MatchRule{}, &gwerrors.ConfigError{FieldPath: path + ".regexp", Message: "failed to compile pattern", Cause: err}
		}
		rule.Pattern = re
	}
	return rule, nil
}

func (l *Loader) buildCluster(path string, yc yamlCluster) (*Cluster, error) {
	if yc.Name == "" {
		return nil, &gwerrors.ConfigError{FieldPath: path + ".name", Message: "cluster name is required"}
	}
	c := &Cluster{Name: yc.Name}

	switch yc.LbPolicy {
	case "", "round_robin":
		c.LbPolicy = LbRoundRobin
	case "random":
		c.LbPolicy = LbRandom
	default:
		return nil, &gwerrors.ConfigError{FieldPath: path + ".lb_policy", Message: fmt.Sprintf("unknown lb_policy %q", yc.LbPolicy)}
	}

	switch yc.Resolver {
	case "static":
		if yc.Static == nil || len(yc.Static.Addresses) == 0 {
			return nil, &gwerrors.ConfigError{FieldPath: path + ".static.addresses", Message: "static resolver requires a non-empty address list"}
		}
		for i, addr := range yc.Static.Addresses {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return nil, &gwerrors.ConfigError{FieldPath: fmt.Sprintf("%s.static.addresses[%d]", path, i), Message: "must be host:port", Cause: err}
			}
		}
		c.Resolver = ResolverStatic
		c.Static = StaticResolverConfig{Addresses: yc.Static.Addresses}

	case "dns":
		if yc.Dns == nil || yc.Dns.Host == "" || yc.Dns.Port == 0 {
			return nil, &gwerrors.ConfigError{FieldPath: path + ".dns", Message: "dns resolver requires host and port"}
		}
		interval := 10 * time.Second
		if yc.Dns.RefreshInterval != "" {
			d, err := time.ParseDuration(yc.Dns.RefreshInterval)
			if err != nil {
				return nil, &gwerrors.ConfigError{FieldPath: path + ".dns.refresh_interval", Message: "invalid duration", Cause: err}
			}
			interval = d
		}
		c.Resolver = ResolverDNS
		c.Dns = DnsResolverConfig{Host: yc.Dns.Host, Port: yc.Dns.Port, RefreshInterval: interval}

	case "consul":
		if yc.Consul == nil || yc.Consul.ServiceName == "" {
			return nil, &gwerrors.ConfigError{FieldPath: path + ".consul.service_name", Message: "consul resolver requires service_name"}
		}
		interval := 10 * time.Second
		if yc.Consul.RefreshInterval != "" {
			d, err := time.ParseDuration(yc.Consul.RefreshInterval)
			if err != nil {
				return nil, &gwerrors.ConfigError{FieldPath: path + ".consul.refresh_interval", Message: "invalid duration", Cause: err}
			}
			interval = d
		}
		c.Resolver = ResolverConsul
		c.Consul = ConsulResolverConfig{
			Address:         yc.Consul.Address,
			ServiceName:     yc.Consul.ServiceName,
			Tag:             yc.Consul.Tag,
			OnlyPassing:     yc.Consul.OnlyPassing,
			RefreshInterval: interval,
		}

	case "etcd":
		if yc.Etcd == nil || len(yc.Etcd.Endpoints) == 0 || yc.Etcd.KeyPrefix == "" {
			return nil, &gwerrors.ConfigError{FieldPath: path + ".etcd", Message: "etcd resolver requires endpoints and key_prefix"}
		}
		dial := 5 * time.Second
		if yc.Etcd.DialTimeout != "" {
			d, err := time.ParseDuration(yc.Etcd.DialTimeout)
			if err != nil {
				return nil, &gwerrors.ConfigError{FieldPath: path + ".etcd.dial_timeout", Message: "invalid duration", Cause: err}
			}
			dial = d
		}
		interval := 10 * time.Second
		if yc.Etcd.RefreshInterval != "" {
			d, err := time.ParseDuration(yc.Etcd.RefreshInterval)
			if err != nil {
				return nil, &gwerrors.ConfigError{FieldPath: path + ".etcd.refresh_interval", Message: "invalid duration", Cause: err}
			}
			interval = d
		}
		c.Resolver = ResolverEtcd
		c.Etcd = EtcdResolverConfig{
			Endpoints:       yc.Etcd.Endpoints,
			KeyPrefix:       yc.Etcd.KeyPrefix,
			DialTimeout:     dial,
			RefreshInterval: interval,
		}

	default:
		return nil, &gwerrors.ConfigError{FieldPath: path + ".resolver", Message: fmt.Sprintf("unknown resolver %q", yc.Resolver)}
	}

	return c, nil
}
