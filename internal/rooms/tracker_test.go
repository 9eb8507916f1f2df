package rooms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeHandle struct{ id string }

func (f *fakeHandle) ID() string                 { return f.id }
func (f *fakeHandle) Enqueue(frame []byte) error { return nil }

func ids(t *testing.T, tr *Tracker, roomID string) []string {
	t.Helper()
	var out []string
	for _, h := range tr.MembersOf(roomID) {
		out = append(out, h.ID())
	}
	return out
}

func TestTracker_JoinLeave(t *testing.T) {
	tr := NewTracker()
	a := &fakeHandle{id: "a"}
	b := &fakeHandle{id: "b"}

	assert.True(t, tr.Join("study", a))
	assert.False(t, tr.Join("study", a), "second join is not new")
	assert.True(t, tr.Join("study", b))
	assert.ElementsMatch(t, []string{"a", "b"}, ids(t, tr, "study"))

	assert.True(t, tr.Leave("study", a))
	assert.False(t, tr.Leave("study", a), "leave is idempotent")
	assert.Equal(t, []string{"b"}, ids(t, tr, "study"))

	assert.True(t, tr.Leave("study", b))
	assert.Empty(t, tr.MembersOf("study"))
	assert.Equal(t, 0, tr.Len(), "empty room is dropped")
}

func TestTracker_LeaveNeverJoined(t *testing.T) {
	tr := NewTracker()
	a := &fakeHandle{id: "a"}

	assert.False(t, tr.Leave("nowhere", a))

	tr.Join("study", &fakeHandle{id: "b"})
	assert.False(t, tr.Leave("study", a))
	assert.Equal(t, []string{"b"}, ids(t, tr, "study"))
}

func TestTracker_LeaveAll(t *testing.T) {
	tr := NewTracker()
	a := &fakeHandle{id: "a"}
	b := &fakeHandle{id: "b"}

	tr.Join("math", a)
	tr.Join("physics", a)
	tr.Join(PersonalRoom("alice"), a)
	tr.Join("math", b)

	assert.Equal(t, []string{"math", "physics", "user:alice"}, tr.RoomsOf(a))

	left := tr.LeaveAll(a)
	assert.Equal(t, []string{"math", "physics", "user:alice"}, left)
	assert.Empty(t, tr.RoomsOf(a))
	assert.Equal(t, []string{"b"}, ids(t, tr, "math"))
	assert.Equal(t, 1, tr.Len())

	assert.Empty(t, tr.LeaveAll(a))
}

func TestReservedRooms(t *testing.T) {
	assert.Equal(t, "user:42", PersonalRoom("42"))
	assert.True(t, IsReserved("user:42"))
	assert.False(t, IsReserved("study-group"))
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeHandle{id: fmt.Sprintf("c%d", i)}
			room := fmt.Sprintf("room%d", i%4)
			tr.Join(room, h)
			_ = tr.MembersOf(room)
			tr.LeaveAll(h)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, tr.Len())
}
