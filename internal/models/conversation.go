package models

// ConversationKind は会話の種類です
type ConversationKind int

const (
	KindNone   ConversationKind = iota // 会話なし
	KindRoom                           // グループルーム
	KindDirect                         // 1対1のDM
)

func (k ConversationKind) String() string {
	switch k {
	case KindRoom:
		return "room"
	case KindDirect:
		return "direct"
	default:
		return "none"
	}
}

// ConversationRef はルームかDM相手のどちらか一方を指すタグ付き共用体です
// ゼロ値は「会話なし」を表します
type ConversationRef struct {
	Kind ConversationKind
	Room Room // Kind == KindRoom のときのみ有効
	Peer User // Kind == KindDirect のときのみ有効
}

// RoomConversation はルームを指す参照を作成します
func RoomConversation(r Room) ConversationRef {
	return ConversationRef{Kind: KindRoom, Room: r}
}

// DirectConversation はDM相手を指す参照を作成します
func DirectConversation(peer User) ConversationRef {
	return ConversationRef{Kind: KindDirect, Peer: peer}
}

// IsZero は会話が選択されていないかを返します
func (c ConversationRef) IsZero() bool { return c.Kind == KindNone }

// IsRoom は指定ルームを指しているかを返します
func (c ConversationRef) IsRoom(key RoomKey) bool {
	return c.Kind == KindRoom && c.Room.Key() == key
}

// IsPeer は指定ユーザーとのDMを指しているかを返します
func (c ConversationRef) IsPeer(userID int64) bool {
	return c.Kind == KindDirect && c.Peer.ID == userID
}

// Key は会話のトランスポート上のルーム識別子を返します
// DMの場合は selfID と相手のIDから導出されます
func (c ConversationRef) Key(selfID int64) RoomKey {
	switch c.Kind {
	case KindRoom:
		return c.Room.Key()
	case KindDirect:
		return DMRoomID(selfID, c.Peer.ID)
	default:
		return ""
	}
}

// Title は表示用の会話名を返します
func (c ConversationRef) Title() string {
	switch c.Kind {
	case KindRoom:
		return c.Room.Name
	case KindDirect:
		return c.Peer.DisplayName()
	default:
		return ""
	}
}
