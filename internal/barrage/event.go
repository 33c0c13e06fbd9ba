// Package barrage defines the canonical livestream event model shared by
// every component of the relay: the normalized Event shape pushed to
// subscribers, the tagged raw payload variants produced by the capture
// layer, and the enums used by both.
package barrage

import (
	"github.com/goccy/go-json"
)

// EventKind identifies the canonical type of a barrage event. The zero
// value KindNone is a sentinel and is never published.
type EventKind int

const (
	KindNone EventKind = iota
	KindChat
	KindLike
	KindMember
	KindFollow
	KindGift
	KindRoomStats
	KindFanClub
	KindShare
	KindStreamEnd
)

var kindNames = map[EventKind]string{
	KindNone:      "无",
	KindChat:      "弹幕",
	KindLike:      "点赞",
	KindMember:    "进房",
	KindFollow:    "关注",
	KindGift:      "礼物",
	KindRoomStats: "统计",
	KindFanClub:   "粉丝团",
	KindShare:     "分享",
	KindStreamEnd: "下播",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "未知"
}

// Kinds returns every publishable event kind in ascending code order.
func Kinds() []EventKind {
	return []EventKind{
		KindChat, KindLike, KindMember, KindFollow, KindGift,
		KindRoomStats, KindFanClub, KindShare, KindStreamEnd,
	}
}

// Gender is the user gender code carried by the upstream payloads.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
)

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "男"
	case GenderFemale:
		return "女"
	default:
		return "妖"
	}
}

// ShareTarget is the destination a viewer shared the room to.
type ShareTarget int

const (
	ShareUnknown      ShareTarget = 0
	ShareWeChat       ShareTarget = 1
	ShareMoments      ShareTarget = 2
	ShareWeibo        ShareTarget = 3
	ShareQZone        ShareTarget = 4
	ShareQQ           ShareTarget = 5
	ShareDouyinFriend ShareTarget = 112
)

var shareNames = map[ShareTarget]string{
	ShareWeChat:       "微信",
	ShareMoments:      "朋友圈",
	ShareWeibo:        "微博",
	ShareQZone:        "QQ空间",
	ShareQQ:           "QQ",
	ShareDouyinFriend: "抖音好友",
}

func (t ShareTarget) String() string {
	if name, ok := shareNames[t]; ok {
		return name
	}
	return "未知"
}

// ParseShareTarget maps a raw share target code to the known enum.
// Codes outside the enum collapse to ShareUnknown.
func ParseShareTarget(code int) ShareTarget {
	t := ShareTarget(code)
	if _, ok := shareNames[t]; ok {
		return t
	}
	return ShareUnknown
}

// FanClubAction is the fan-club message subtype.
type FanClubAction int

const (
	FanClubNone    FanClubAction = 0
	FanClubUpgrade FanClubAction = 1
	FanClubJoin    FanClubAction = 2
)

// FansClub is the fan-club snapshot attached to a user.
type FansClub struct {
	ClubName string `json:"ClubName"`
	Level    int64  `json:"Level"`
}

// User is the acting user resolved for an event. IsAdmin and IsAnchor are
// computed against the resolved room's admin set and owner id; they are
// false when the room is unknown.
type User struct {
	ID             int64    `json:"Id"`
	ShortID        int64    `json:"ShortId"`
	DisplayID      string   `json:"DisplayId"`
	Nickname       string   `json:"Nickname"`
	Level          int64    `json:"Level"`
	PayLevel       int64    `json:"PayLevel"`
	Gender         Gender   `json:"Gender"`
	HeadImgURL     string   `json:"HeadImgUrl"`
	SecUID         string   `json:"SecUid"`
	FansClub       FansClub `json:"FansClub"`
	FollowerCount  int64    `json:"FollowerCount"`
	FollowingCount int64    `json:"FollowingCount"`
	FollowStatus   int64    `json:"FollowStatus"`
	IsAdmin        bool     `json:"IsAdmin"`
	IsAnchor       bool     `json:"IsAnchor"`
}

// AnchorInfo is the room owner snapshot attached to enriched events.
type AnchorInfo struct {
	UserID       string `json:"UserId"`
	SecUID       string `json:"SecUid"`
	Nickname     string `json:"Nickname"`
	HeadURL      string `json:"HeadUrl"`
	FollowStatus int64  `json:"FollowStatus"`
}

// Event is the canonical message shape. One struct covers every kind;
// kind-specific fields are zero for kinds that do not carry them. Events
// are immutable once handed to the sinks.
type Event struct {
	Kind EventKind `json:"-"`

	MsgID       int64       `json:"MsgId"`
	RoomID      string      `json:"RoomId"`
	WebRoomID   string      `json:"WebRoomId"`
	RoomTitle   string      `json:"RoomTitle"`
	IsAnonymous bool        `json:"IsAnonymous"`
	AppID       string      `json:"Appid"`
	User        *User       `json:"User"`
	Owner       *AnchorInfo `json:"Owner,omitempty"`
	Content     string      `json:"Content"`

	// Like.
	Count int64 `json:"Count,omitempty"`
	Total int64 `json:"Total,omitempty"`

	// Member enter.
	CurrentCount int64 `json:"CurrentCount,omitempty"`
	EnterTipType int64 `json:"EnterTipType,omitempty"`

	// Gift. RepeatCount is the raw cumulative combo counter, GiftCount the
	// reconciled increment.
	GiftID       int64  `json:"GiftId,omitempty"`
	GiftName     string `json:"GiftName,omitempty"`
	GroupID      int64  `json:"GroupId,omitempty"`
	GiftCount    int64  `json:"GiftCount,omitempty"`
	RepeatCount  int64  `json:"RepeatCount,omitempty"`
	DiamondCount int64  `json:"DiamondCount,omitempty"`
	Combo        bool   `json:"Combo,omitempty"`
	ImgURL       string `json:"ImgUrl,omitempty"`
	ToUser       *User  `json:"ToUser,omitempty"`

	// Room stats.
	OnlineUserCount    int64  `json:"OnlineUserCount,omitempty"`
	OnlineUserCountStr string `json:"OnlineUserCountStr,omitempty"`
	TotalUserCount     int64  `json:"TotalUserCount,omitempty"`
	TotalUserCountStr  string `json:"TotalUserCountStr,omitempty"`

	// Fan club.
	FanClubAction FanClubAction `json:"FanClubType,omitempty"`
	FanClubLevel  int64         `json:"Level,omitempty"`

	// Share.
	ShareTarget ShareTarget `json:"ShareType,omitempty"`
}

// MsgPack is the envelope pushed to subscribers. Data carries the
// JSON-encoded Event.
type MsgPack struct {
	Type EventKind `json:"Type"`
	Data string    `json:"Data"`
}

// Pack wraps an event into its push envelope.
func Pack(evt *Event) (*MsgPack, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return &MsgPack{Type: evt.Kind, Data: string(data)}, nil
}

// Marshal serializes the envelope for the wire.
func (p *MsgPack) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
