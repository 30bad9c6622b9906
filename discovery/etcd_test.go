package discovery

import (
	"context"
	"errors"
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV serves Get from a map. Other KV methods are not used.
type fakeKV struct {
	clientv3.KV
	data map[string]string
	err  error
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := &clientv3.GetResponse{}
	if v, ok := f.data[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: []byte(v)}}
		resp.Count = 1
	}
	return resp, nil
}

func TestResolve(t *testing.T) {
	kv := &fakeKV{data: map[string]string{"/bloc/coordinators/jobs": "http://bloc:8989"}}
	got, err := Resolve(context.Background(), kv, "jobs")
	if err != nil || got != "http://bloc:8989" {
		t.Fatalf("Resolve = %q,%v", got, err)
	}
}

func TestResolveMissing(t *testing.T) {
	kv := &fakeKV{data: map[string]string{}}
	if _, err := Resolve(context.Background(), kv, "jobs"); !errors.Is(err, ErrNoCoordinator) {
		t.Fatalf("err = %v, want ErrNoCoordinator", err)
	}
}

func TestResolveError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Resolve(context.Background(), &fakeKV{err: boom}, "jobs"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}
