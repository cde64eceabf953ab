// Package mapset is a second StateMachine (engine.StateMachine): a set of
// strings plus a string->string map, under one command vocabulary. It
// exists to exercise the engine's apply path with a state machine shaped
// differently from kvstatemachine (set membership rather than opaque
// byte values), built in the same style.
package mapset

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ugorji/go/codec"
)

const (
	CommandSetAdd    = "set_add"
	CommandSetRemove = "set_remove"
	CommandSetHas    = "set_has"
	CommandMapPut    = "map_put"
	CommandMapDelete = "map_delete"
	CommandMapGet    = "map_get"
)

var mh = &codec.MsgpackHandle{}

type setMemberArgs struct {
	Member string
}

type mapPutArgs struct {
	Key   string
	Value string
}

type mapKeyArgs struct {
	Key string
}

type snapshot struct {
	Set map[string]struct{}
	Map map[string]string
}

// StateMachine holds a string set and a string->string map. Apply is only
// ever called from the engine's single-writer loop; the read accessors lock
// for callers on other goroutines.
type StateMachine struct {
	mu  sync.RWMutex
	set map[string]struct{}
	m   map[string]string
}

func New() *StateMachine {
	return &StateMachine{set: map[string]struct{}{}, m: map[string]string{}}
}

func (sm *StateMachine) Apply(command string, args []byte) ([]byte, error) {
	dec := codec.NewDecoderBytes(args, mh)
	switch command {
	case CommandSetAdd:
		var a setMemberArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		sm.mu.Lock()
		sm.set[a.Member] = struct{}{}
		sm.mu.Unlock()
		return nil, nil
	case CommandSetRemove:
		var a setMemberArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		sm.mu.Lock()
		delete(sm.set, a.Member)
		sm.mu.Unlock()
		return nil, nil
	case CommandSetHas:
		var a setMemberArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		sm.mu.RLock()
		_, ok := sm.set[a.Member]
		sm.mu.RUnlock()
		if ok {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case CommandMapPut:
		var a mapPutArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		sm.mu.Lock()
		sm.m[a.Key] = a.Value
		sm.mu.Unlock()
		return nil, nil
	case CommandMapDelete:
		var a mapKeyArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		sm.mu.Lock()
		delete(sm.m, a.Key)
		sm.mu.Unlock()
		return nil, nil
	case CommandMapGet:
		var a mapKeyArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		sm.mu.RLock()
		v, ok := sm.m[a.Key]
		sm.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("mapset: key %q not found", a.Key)
		}
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("mapset: unknown command %q", command)
	}
}

// Members returns the set's contents in sorted order, for callers (a CLI
// status command, tests) that want a deterministic view.
func (sm *StateMachine) Members() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.set))
	for member := range sm.set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}

func (sm *StateMachine) Snapshot(w io.Writer) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	snap := snapshot{Set: sm.set, Map: sm.m}
	return codec.NewEncoder(w, mh).Encode(&snap)
}

func (sm *StateMachine) InstallSnapshot(r io.Reader) error {
	var snap snapshot
	if err := codec.NewDecoder(r, mh).Decode(&snap); err != nil {
		return err
	}
	if snap.Set == nil {
		snap.Set = map[string]struct{}{}
	}
	if snap.Map == nil {
		snap.Map = map[string]string{}
	}
	sm.mu.Lock()
	sm.set = snap.Set
	sm.m = snap.Map
	sm.mu.Unlock()
	return nil
}
