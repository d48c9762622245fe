package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/wudi/edgegateway/internal/config"
)

// etcdEndpoint is the JSON value stored under each key of the watched
// prefix: an {address, port} pair for one registered service instance.
type etcdEndpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// etcdResolver resolves a cluster's endpoints from a flat set of
// JSON-encoded values under an etcd key prefix.
type etcdResolver struct {
	client    *clientv3.Client
	keyPrefix string
}

func newEtcdResolver(cfg config.EtcdResolverConfig) (*etcdResolver, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd: %w", err)
	}
	return &etcdResolver{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (r *etcdResolver) Resolve(ctx context.Context) ([]string, error) {
	resp, err := r.client.Get(ctx, r.keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd: get %s: %w", r.keyPrefix, err)
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep etcdEndpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue
		}
		out = append(out, ep.Address+":"+strconv.Itoa(ep.Port))
	}
	return out, nil
}
