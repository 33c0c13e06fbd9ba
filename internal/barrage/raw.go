package barrage

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Envelope carries the fields common to every decoded upstream payload.
type Envelope struct {
	MsgID  int64 `json:"msg_id"`
	RoomID int64 `json:"room_id"`
	AppID  int64 `json:"app_id"`
}

func (e Envelope) Env() Envelope { return e }

// RawEvent is the sealed set of decoded payload variants handed over by the
// capture layer. The normalizer switches exhaustively over these types.
type RawEvent interface {
	Env() Envelope
	rawEvent()
}

// RawUser is the user sub-record of a raw payload.
type RawUser struct {
	ID             int64  `json:"id"`
	ShortID        int64  `json:"short_id"`
	DisplayID      string `json:"display_id"`
	Nickname       string `json:"nickname"`
	Level          int64  `json:"level"`
	PayLevel       int64  `json:"pay_level"`
	Gender         int    `json:"gender"`
	AvatarURL      string `json:"avatar_url"`
	SecUID         string `json:"sec_uid"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	FollowStatus   int64  `json:"follow_status"`
	FansClubName   string `json:"fans_club_name"`
	FansClubLevel  int64  `json:"fans_club_level"`
}

// RawChat is a chat (danmaku) payload.
type RawChat struct {
	Envelope
	User    *RawUser `json:"user"`
	Content string   `json:"content"`
}

// RawLike is a like payload carrying the tap count and the room total.
type RawLike struct {
	Envelope
	User  *RawUser `json:"user"`
	Count int64    `json:"count"`
	Total int64    `json:"total"`
}

// RawMember is a room-entry payload.
type RawMember struct {
	Envelope
	User         *RawUser `json:"user"`
	MemberCount  int64    `json:"member_count"`
	EnterTipType int64    `json:"enter_tip_type"`
}

// RawSocial covers follow (Action 1) and room share (Action 3) payloads.
type RawSocial struct {
	Envelope
	User        *RawUser `json:"user"`
	Action      int64    `json:"action"`
	ShareTarget string   `json:"share_target"`
}

// RawGift is a gift payload. RepeatCount is the cumulative combo counter,
// RepeatEnd signals the end of a combo strike.
type RawGift struct {
	Envelope
	User         *RawUser `json:"user"`
	ToUser       *RawUser `json:"to_user"`
	GiftID       int64    `json:"gift_id"`
	GroupID      int64    `json:"group_id"`
	RepeatCount  int64    `json:"repeat_count"`
	RepeatEnd    int64    `json:"repeat_end"`
	GiftName     string   `json:"gift_name"`
	DiamondCount int64    `json:"diamond_count"`
	Combo        bool     `json:"combo"`
	ImgURL       string   `json:"img_url"`
}

// RawRoomStats is a room audience statistics payload.
type RawRoomStats struct {
	Envelope
	Total               int64  `json:"total"`
	TotalUser           int64  `json:"total_user"`
	OnlineUserForAnchor string `json:"online_user_for_anchor"`
	TotalPVForAnchor    string `json:"total_pv_for_anchor"`
}

// RawFanClub is a fan-club payload (join or upgrade).
type RawFanClub struct {
	Envelope
	User    *RawUser `json:"user"`
	Type    int64    `json:"type"`
	Content string   `json:"content"`
}

// RawControl is a room lifecycle payload; Status 3 means the stream ended.
type RawControl struct {
	Envelope
	Status int64 `json:"status"`
}

func (*RawChat) rawEvent()      {}
func (*RawLike) rawEvent()      {}
func (*RawMember) rawEvent()    {}
func (*RawSocial) rawEvent()    {}
func (*RawGift) rawEvent()      {}
func (*RawRoomStats) rawEvent() {}
func (*RawFanClub) rawEvent()   {}
func (*RawControl) rawEvent()   {}

// Raw record discriminators used by recordings and tests.
const (
	RawKindChat      = "chat"
	RawKindLike      = "like"
	RawKindMember    = "member"
	RawKindSocial    = "social"
	RawKindGift      = "gift"
	RawKindRoomStats = "room_stats"
	RawKindFanClub   = "fanclub"
	RawKindControl   = "control"
)

// DecodeRaw decodes one recorded raw event line. The line is a JSON object
// with a "kind" discriminator next to the variant's own fields.
func DecodeRaw(data []byte) (RawEvent, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding raw event: %w", err)
	}

	var raw RawEvent
	switch probe.Kind {
	case RawKindChat:
		raw = &RawChat{}
	case RawKindLike:
		raw = &RawLike{}
	case RawKindMember:
		raw = &RawMember{}
	case RawKindSocial:
		raw = &RawSocial{}
	case RawKindGift:
		raw = &RawGift{}
	case RawKindRoomStats:
		raw = &RawRoomStats{}
	case RawKindFanClub:
		raw = &RawFanClub{}
	case RawKindControl:
		raw = &RawControl{}
	default:
		return nil, fmt.Errorf("unknown raw event kind %q", probe.Kind)
	}

	if err := json.Unmarshal(data, raw); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", probe.Kind, err)
	}
	return raw, nil
}
