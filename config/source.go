package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/replogio/replog/network"
)

// Source is the membership collaborator spec.md §6 leaves
// implementation-defined: "an external naming or coordination service."
// cmd/replogd reads the current peer set from Peers and reacts to changes
// pushed through Watch, updating the network.Set that its coordinator
// and recover loop share.
type Source interface {
	Peers(ctx context.Context) (map[network.PeerID]string, error)
	Watch(ctx context.Context, onChange func(map[network.PeerID]string))
}

// StaticSource serves a fixed peer list straight from Config.
type StaticSource struct {
	peers map[network.PeerID]string
}

var _ Source = &StaticSource{}

// NewStaticSource returns a Source that never changes.
func NewStaticSource(peers map[network.PeerID]string) *StaticSource {
	return &StaticSource{peers: peers}
}

func (s *StaticSource) Peers(context.Context) (map[network.PeerID]string, error) {
	return s.peers, nil
}

// Watch is a no-op: a static peer list has nothing to push.
func (s *StaticSource) Watch(context.Context, func(map[network.PeerID]string)) {}

// ZKSource discovers peers from ephemeral znodes under rootPath+"/nodes",
// one per live replica, grounded on the teacher pack's ZKMembership
// (ensurePath/RegisterSelf/ChildrenW pattern).
type ZKSource struct {
	conn     *zk.Conn
	rootPath string
}

var _ Source = &ZKSource{}

// NewZKSource connects to servers and returns a Source backed by
// rootPath+"/nodes".
func NewZKSource(servers []string, rootPath string) (*ZKSource, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: zk connect: %w", err)
	}
	return &ZKSource{conn: conn, rootPath: rootPath}, nil
}

// Close releases the ZooKeeper session.
func (s *ZKSource) Close() error {
	s.conn.Close()
	return nil
}

func (s *ZKSource) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

// RegisterSelf creates an ephemeral znode advertising localAddr under
// this node's id, removed automatically when the session ends.
func (s *ZKSource) RegisterSelf(id network.PeerID, localAddr string) error {
	if err := s.waitConnected(10 * time.Second); err != nil {
		return err
	}
	if err := s.ensurePath(s.rootPath + "/nodes"); err != nil {
		return fmt.Errorf("config: zk ensure nodes path: %w", err)
	}

	nodePath := fmt.Sprintf("%s/nodes/%s", s.rootPath, id)
	_, err := s.conn.Create(nodePath, []byte(localAddr), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("config: zk create ephemeral node: %w", err)
	}
	return nil
}

func (s *ZKSource) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := s.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("config: zk not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *ZKSource) readNodes() (map[network.PeerID]string, error) {
	children, _, err := s.conn.Children(s.rootPath + "/nodes")
	if err != nil {
		return nil, fmt.Errorf("config: zk children: %w", err)
	}
	out := make(map[network.PeerID]string, len(children))
	for _, child := range children {
		data, _, err := s.conn.Get(s.rootPath + "/nodes/" + child)
		if err != nil {
			continue
		}
		out[network.PeerID(child)] = string(data)
	}
	return out, nil
}

func (s *ZKSource) Peers(context.Context) (map[network.PeerID]string, error) {
	return s.readNodes()
}

// Watch runs a background loop re-reading the node list on every
// ZooKeeper watch event until ctx is cancelled.
func (s *ZKSource) Watch(ctx context.Context, onChange func(map[network.PeerID]string)) {
	go func() {
		for {
			children, _, ch, err := s.conn.ChildrenW(s.rootPath + "/nodes")
			if err != nil {
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			peers := make(map[network.PeerID]string, len(children))
			for _, child := range children {
				data, _, err := s.conn.Get(s.rootPath + "/nodes/" + child)
				if err == nil {
					peers[network.PeerID(child)] = string(data)
				}
			}
			onChange(peers)

			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
	}()
}
