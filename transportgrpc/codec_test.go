package transportgrpc

import (
	"testing"

	"github.com/raftkit/engine/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgpackCodecName(t *testing.T) {
	c := newMsgpackCodec()
	assert.Equal(t, "msgpack", c.Name())
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	c := newMsgpackCodec()
	req := &pb.AppendEntriesRequest{
		ID:           "r1",
		Term:         3,
		LeaderID:     "leader",
		PrevLogIndex: 5,
		PrevLogTerm:  2,
		Entries: []pb.Entry{
			{Index: 6, Term: 3, Type: 0, Command: "set", Args: []byte("v")},
		},
		CommitIndex: 4,
	}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var got pb.AppendEntriesRequest
	require.NoError(t, c.Unmarshal(data, &got))
	assert.Equal(t, *req, got)
}
