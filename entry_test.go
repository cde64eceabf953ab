package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryType(t *testing.T) {
	cases := []struct {
		payload EntryPayload
		want    EntryType
	}{
		{CommandPayload{Command: "set"}, EntryCommand},
		{ConfigurationPayload{Members: []MemberID{"a"}}, EntryConfiguration},
		{SnapshotStartPayload{Term: 1}, EntrySnapshotStart},
		{SnapshotChunkPayload{Data: []byte("x")}, EntrySnapshotChunk},
		{SnapshotEndPayload{Length: 1}, EntrySnapshotEnd},
		{NoOpPayload{}, EntryNoOp},
	}
	for _, c := range cases {
		e := &Entry{Payload: c.payload}
		assert.Equal(t, c.want, e.Type())
		assert.NotEmpty(t, c.want.String())
	}
}

func TestEntryCopyIsDeep(t *testing.T) {
	original := &Entry{
		Index:   3,
		Term:    2,
		Payload: CommandPayload{Command: "set", Args: []byte("hello")},
	}
	cp := original.Copy()
	require.IsType(t, CommandPayload{}, cp.Payload)

	cmd := cp.Payload.(CommandPayload)
	cmd.Args[0] = 'H'
	assert.Equal(t, byte('h'), original.Payload.(CommandPayload).Args[0], "mutating the copy must not affect the original")
}

func TestEntryCopyNil(t *testing.T) {
	var e *Entry
	assert.Nil(t, e.Copy())
}
