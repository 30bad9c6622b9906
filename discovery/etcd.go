// Package discovery advertises the coordinator's URL in etcd so clients can
// find it by name. Only the address lives in etcd; membership stays in the
// coordinator's memory.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/bloc/coordinators/"

// ErrNoCoordinator is returned by Resolve when nothing is registered under a name.
var ErrNoCoordinator = errors.New("no coordinator registered")

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func Key(name string) string { return keyPrefix + name }

// Register writes url under name with a lease of ttl seconds and keeps the
// lease alive until cancel is called or ctx ends.
func Register(ctx context.Context, cli *clientv3.Client, name, url string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, Key(name), url, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", Key(name), err)
	}

	kctx, cancel := context.WithCancel(ctx)
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keep alive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// Resolve returns the URL registered under name.
func Resolve(ctx context.Context, kv clientv3.KV, name string) (string, error) {
	resp, err := kv.Get(ctx, Key(name))
	if err != nil {
		return "", fmt.Errorf("get %s: %w", Key(name), err)
	}
	if len(resp.Kvs) == 0 || len(resp.Kvs[0].Value) == 0 {
		return "", fmt.Errorf("%s: %w", name, ErrNoCoordinator)
	}
	return string(resp.Kvs[0].Value), nil
}
