// Package zktest 提供内存版 ZooKeeper 连接，只实现分布式锁用到的语义
package zktest

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
)

// Conn 是内存版 ZooKeeper 连接，满足 zookeeper.Conn 接口
type Conn struct {
	mu       sync.Mutex
	nodes    map[string][]byte
	seq      map[string]int
	watchers map[string][]chan zk.Event
}

func NewConn() *Conn {
	return &Conn{
		nodes:    map[string][]byte{"/": nil},
		seq:      map[string]int{},
		watchers: map[string][]chan zk.Event{},
	}
}

func (f *Conn) Create(p string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[p] = data
	return p, nil
}

func (f *Conn) CreateProtectedEphemeralSequential(p string, data []byte, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, prefix := path.Split(p)
	parent = strings.TrimSuffix(parent, "/")
	n := f.seq[parent]
	f.seq[parent] = n + 1
	node := fmt.Sprintf("%s/_c_%s-%s%010d", parent, strings.ReplaceAll(uuid.NewString(), "-", ""), prefix, n)
	f.nodes[node] = data
	return node, nil
}

func (f *Conn) Children(p string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for node := range f.nodes {
		if path.Dir(node) == p && node != p {
			out = append(out, path.Base(node))
		}
	}
	return out, &zk.Stat{}, nil
}

func (f *Conn) Get(p string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{}, nil
}

func (f *Conn) ExistsW(p string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan zk.Event, 1)
	_, ok := f.nodes[p]
	if ok {
		f.watchers[p] = append(f.watchers[p], ch)
	}
	return ok, &zk.Stat{}, ch, nil
}

func (f *Conn) Delete(p string, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; !ok {
		return zk.ErrNoNode
	}
	delete(f.nodes, p)
	for _, ch := range f.watchers[p] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: p}
	}
	delete(f.watchers, p)
	return nil
}

// Exists 供测试断言节点是否存在
func (f *Conn) Exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[p]
	return ok
}
