package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
)

// Conn 是锁实现用到的 ZooKeeper 操作子集，*zk.Conn 满足该接口
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
}

// Connect 建立连接并等待会话建立，超过 sessionTimeout 仍未建立则返回错误
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	l := zlog.Logger.With().Str("component", "zookeeper").Logger()
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(&l))
	if err != nil {
		return nil, errors.Wrap(err, "connect to zookeeper")
	}

	timer := time.NewTimer(sessionTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				zlog.Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
				return conn, nil
			}
		case <-timer.C:
			conn.Close()
			return nil, errors.Errorf("zookeeper session not established within %s", sessionTimeout)
		}
	}
}
