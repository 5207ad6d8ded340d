package zookeeper

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
)

const (
	DefaultLockRoot = "/distributed_locks" // 所有分布式锁的根节点
	nodePrefix      = "lock-"
	sequenceLen     = 10 // ZooKeeper 顺序节点后缀固定 10 位
)

var ErrLockTimeout = errors.New("timeout waiting for zookeeper lock")

// Locker 基于临时顺序节点实现的公平锁。
// 节点数据保存租约截止时间（毫秒时间戳），排队者发现前驱租约过期时会删除它。
type Locker struct {
	conn Conn
	root string
}

func NewLocker(conn Conn, root string) *Locker {
	if root == "" {
		root = DefaultLockRoot
	}
	return &Locker{conn: conn, root: root}
}

// Lock 代表一次成功的加锁
type Lock struct {
	conn     Conn
	Node     string // 成功获取锁后，自己创建的节点路径
	Deadline time.Time
}

// TryLock 尝试在 wait 内获取 resource 的锁，持有上限为 hold
func (l *Locker) TryLock(ctx context.Context, resource string, wait, hold time.Duration) (*Lock, error) {
	lockPath := path.Join(l.root, resource)
	if err := l.ensurePath(lockPath); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(hold)
	data := []byte(strconv.FormatInt(deadline.UnixMilli(), 10))
	// 1. 在锁路径下创建一个临时顺序节点
	node, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/"+nodePrefix, data, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sequential node")
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := l.waitTurn(waitCtx, lockPath, path.Base(node)); err != nil {
		// 放弃排队，删掉自己的节点，不阻塞后来者
		if delErr := l.conn.Delete(node, -1); delErr != nil && !errors.Is(delErr, zk.ErrNoNode) {
			logger.Ctx(ctx).Warn().Err(delErr).Str("node", node).Msg("failed to delete abandoned lock node")
		}
		return nil, err
	}
	return &Lock{conn: l.conn, Node: node, Deadline: deadline}, nil
}

func (l *Locker) waitTurn(ctx context.Context, lockPath, myName string) error {
	for {
		// 2. 获取锁路径下的所有子节点，按序号排序
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			return errors.Wrap(err, "failed to get children nodes")
		}
		sortBySequence(children)

		idx := indexOf(children, myName)
		if idx < 0 {
			return errors.Errorf("own lock node %s disappeared", myName)
		}
		// 3. 是最小节点，成功获取锁
		if idx == 0 {
			return nil
		}

		// 4. 不是最小节点，检查并监听前一个节点
		prev := lockPath + "/" + children[idx-1]
		raw, _, err := l.conn.Get(prev)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "failed to read previous node")
		}
		prevDeadline := parseDeadline(raw)
		if !prevDeadline.IsZero() && !time.Now().Before(prevDeadline) {
			// 前驱持有者租约已过期，视为崩溃或挂起，直接清理
			if err := l.conn.Delete(prev, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
				return errors.Wrap(err, "failed to delete expired lock node")
			}
			continue
		}

		exists, _, events, err := l.conn.ExistsW(prev)
		if err != nil {
			return errors.Wrap(err, "failed to watch previous node")
		}
		if !exists {
			continue
		}

		var (
			timer  *time.Timer
			expiry <-chan time.Time
		)
		if !prevDeadline.IsZero() {
			timer = time.NewTimer(time.Until(prevDeadline))
			expiry = timer.C
		}
		select {
		case <-events:
		case <-expiry:
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ErrLockTimeout
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Locker) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		cur += "/" + part
		_, err := l.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Wrapf(err, "failed to create lock path node %s", cur)
		}
	}
	return nil
}

// Unlock 释放锁，节点已不存在（被判定过期清理）时视为成功
func (lk *Lock) Unlock() error {
	if lk == nil || lk.Node == "" {
		return errors.New("no lock to unlock")
	}
	err := lk.conn.Delete(lk.Node, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "failed to delete lock node")
	}
	lk.Node = ""
	return nil
}

// 受保护节点名形如 _c_<guid>-lock-0000000001，只能按后缀序号排序
func sequenceOf(name string) int64 {
	if len(name) < sequenceLen {
		return -1
	}
	seq, err := strconv.ParseInt(name[len(name)-sequenceLen:], 10, 64)
	if err != nil {
		return -1
	}
	return seq
}

func sortBySequence(names []string) {
	sort.Slice(names, func(i, j int) bool { return sequenceOf(names[i]) < sequenceOf(names[j]) })
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func parseDeadline(raw []byte) time.Time {
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
