// Package kvstatemachine is a key/value StateMachine (engine.StateMachine):
// Set/Unset/Get over a plain map, snapshotted as a single msgpack blob
// through the engine's Apply(command, args)/Snapshot(io.Writer)/
// InstallSnapshot(io.Reader) interface.
package kvstatemachine

import (
	"fmt"
	"io"
	"sync"

	"github.com/ugorji/go/codec"
)

const (
	CommandSet   = "set"
	CommandUnset = "unset"
	CommandGet   = "get"
)

var mh = &codec.MsgpackHandle{}

// setArgs/unsetArgs/getArgs are the msgpack payloads carried as an Entry's
// Args for each command, decoded inside Apply.
type setArgs struct {
	Key   string
	Value []byte
}

type unsetArgs struct {
	Key string
}

type getArgs struct {
	Key string
}

// StateMachine is a map[string][]byte state machine. Safe for concurrent
// use; Apply is only ever called from the engine's single-writer loop, but
// Keys/KeyValues are exposed for read-only callers (e.g. a CLI status
// command) that run on other goroutines.
type StateMachine struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func New() *StateMachine {
	return &StateMachine{states: map[string][]byte{}}
}

func (m *StateMachine) Apply(command string, args []byte) ([]byte, error) {
	dec := codec.NewDecoderBytes(args, mh)
	switch command {
	case CommandSet:
		var a setArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.states[a.Key] = a.Value
		m.mu.Unlock()
		return nil, nil
	case CommandUnset:
		var a unsetArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		m.mu.Lock()
		delete(m.states, a.Key)
		m.mu.Unlock()
		return nil, nil
	case CommandGet:
		var a getArgs
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
		m.mu.RLock()
		v, ok := m.states[a.Key]
		m.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("kvstatemachine: key %q not found", a.Key)
		}
		return append([]byte(nil), v...), nil
	default:
		return nil, fmt.Errorf("kvstatemachine: unknown command %q", command)
	}
}

func (m *StateMachine) Keys() (keys []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key := range m.states {
		keys = append(keys, key)
	}
	return
}

func (m *StateMachine) KeyValues() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string][]byte{}
	for key, value := range m.states {
		out[key] = append([]byte(nil), value...)
	}
	return out
}

func (m *StateMachine) Snapshot(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return codec.NewEncoder(w, mh).Encode(m.states)
}

func (m *StateMachine) InstallSnapshot(r io.Reader) error {
	states := map[string][]byte{}
	if err := codec.NewDecoder(r, mh).Decode(&states); err != nil {
		return err
	}
	m.mu.Lock()
	m.states = states
	m.mu.Unlock()
	return nil
}
