package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDMRoomIDIsSymmetric(t *testing.T) {
	pairs := [][2]int64{{1, 7}, {7, 1}, {42, 3}, {10, 9}, {5, 5}, {100, 1000}}
	for _, p := range pairs {
		a, b := p[0], p[1]
		assert.Equal(t, DMRoomID(a, b), DMRoomID(b, a), "pair %d,%d", a, b)
		assert.Equal(t, DMRoomID(a, b), DMRoomID(a, b), "stable for %d,%d", a, b)
	}
	assert.Equal(t, RoomKey("private_1_7"), DMRoomID(7, 1))
	// 数値順であり文字列順ではない
	assert.Equal(t, RoomKey("private_9_10"), DMRoomID(10, 9))
}

func TestRoomKeyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		RoomID RoomKey `json:"room_id"`
	}{RoomKeyFromID(12)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"room_id":12}`, string(b))

	b, err = json.Marshal(struct {
		RoomID RoomKey `json:"room_id"`
	}{DMRoomID(1, 7)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"room_id":"private_1_7"}`, string(b))

	var in struct {
		A RoomKey `json:"a"`
		B RoomKey `json:"b"`
		C RoomKey `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":3,"b":"3","c":null}`), &in))
	assert.Equal(t, RoomKey("3"), in.A)
	assert.Equal(t, in.A, in.B)
	assert.Equal(t, RoomKey(""), in.C)
}

func TestTimestampAcceptsNaiveISO(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"user_id":2,"content":"hi","timestamp":"2024-03-01T10:20:30.123456","user":{"id":2}}`), &m))
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC), m.Timestamp.Time)

	require.NoError(t, json.Unmarshal([]byte(`{"timestamp":null}`), &m))
	assert.True(t, m.Timestamp.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"timestamp":"yesterday"}`), &m))
}

func TestConversationRef(t *testing.T) {
	var none ConversationRef
	assert.True(t, none.IsZero())
	assert.Equal(t, RoomKey(""), none.Key(1))

	room := RoomConversation(Room{ID: 4, Name: "general"})
	assert.True(t, room.IsRoom("4"))
	assert.False(t, room.IsPeer(4))
	assert.Equal(t, "general", room.Title())

	dm := DirectConversation(User{ID: 7, FirstName: "Ada", LastName: "Lovelace"})
	assert.Equal(t, RoomKey("private_1_7"), dm.Key(1))
	assert.True(t, dm.IsPeer(7))
	assert.Equal(t, "Ada Lovelace", dm.Title())
}

func TestMessagePeer(t *testing.T) {
	in := Message{UserID: 7, ReceiverID: 1}
	assert.Equal(t, int64(7), in.Peer(1))
	out := Message{UserID: 1, ReceiverID: 7}
	assert.Equal(t, int64(7), out.Peer(1))
}

func TestUserDisplay(t *testing.T) {
	u := User{ID: 3, FirstName: "grace", LastName: "hopper"}
	assert.Equal(t, "GH", u.Initials())
	assert.Equal(t, "User 9", User{ID: 9}.DisplayName())
}
