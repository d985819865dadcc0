package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(connID, userID string) *Client {
	return NewClient(connID, userID, nil, 8)
}

func TestAddRemoveLast(t *testing.T) {
	r := NewRegistry()
	c1 := testClient("c1", "u1")
	c2 := testClient("c2", "u1")

	r.Add(c1)
	r.Add(c2)
	assert.True(t, r.IsOnline("u1"))
	assert.Equal(t, 2, r.ConnCount())
	assert.Len(t, r.Conns("u1"), 2)

	// removing one of two connections does not take the user offline
	assert.False(t, r.Remove(c1))
	assert.True(t, r.IsOnline("u1"))

	assert.True(t, r.Remove(c2))
	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, 0, r.ConnCount())
	assert.Empty(t, r.Snapshot())
}

func TestRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	c := testClient("c1", "u1")
	r.Add(c)

	assert.True(t, r.Remove(c))
	assert.False(t, r.Remove(c), "second remove must not report offline again")
}

func TestSnapshotSorted(t *testing.T) {
	r := NewRegistry()
	r.Add(testClient("c1", "zed"))
	r.Add(testClient("c2", "amy"))
	r.Add(testClient("c3", "mia"))

	assert.Equal(t, []string{"amy", "mia", "zed"}, r.Snapshot())
}

func TestRooms(t *testing.T) {
	r := NewRegistry()
	c1 := testClient("c1", "u1")
	c2 := testClient("c2", "u2")
	r.Add(c1)
	r.Add(c2)

	r.Join("room1", c1)
	r.Join("room1", c2)
	assert.Len(t, r.Room("room1"), 2)
	assert.Contains(t, c1.Joined(), "room1")

	r.Leave("room1", c1)
	assert.Len(t, r.Room("room1"), 1)
	assert.NotContains(t, c1.Joined(), "room1")

	// removing a connection evicts it from every room
	r.Remove(c2)
	assert.Empty(t, r.Room("room1"))
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", g%3)
			for i := 0; i < 200; i++ {
				c := testClient(fmt.Sprintf("c%d-%d", g, i), user)
				r.Add(c)
				r.Join("lobby", c)
				_ = r.Snapshot()
				_ = r.Conns(user)
				r.Remove(c)
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 0, r.ConnCount())
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, r.Room("lobby"))
}
