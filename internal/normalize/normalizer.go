// Package normalize converts decoded raw payloads into canonical events,
// enriched with cached room context.
package normalize

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
	"github.com/dylive/barrage-relay/internal/room"
)

// Social payload action codes.
const (
	actionFollow = 1
	actionShare  = 3
)

// Member enter tip code meaning the viewer arrived through a share link.
const enterTipShare = 6

// Control status code for a finished stream.
const statusStreamEnded = 3

// Normalizer turns raw payloads into canonical events. When the web room
// allow-list is non-empty, events from rooms resolving to an unlisted web
// room id are dropped; unresolved rooms always pass.
type Normalizer struct {
	rooms        room.Provider
	allowedRooms map[string]struct{}
	logger       *zap.Logger
}

func New(rooms room.Provider, allowedWebRoomIDs []string, logger *zap.Logger) *Normalizer {
	var allowed map[string]struct{}
	if len(allowedWebRoomIDs) > 0 {
		allowed = make(map[string]struct{}, len(allowedWebRoomIDs))
		for _, id := range allowedWebRoomIDs {
			if id != "" {
				allowed[id] = struct{}{}
			}
		}
	}
	return &Normalizer{rooms: rooms, allowedRooms: allowed, logger: logger}
}

// Normalize converts one raw payload. It returns nil when the event is
// dropped: malformed envelope, excluded room, or a social action with no
// canonical kind. Gift events come back with GiftCount zero and Content
// empty; the engine fills both after reconciliation via RenderGift.
func (n *Normalizer) Normalize(raw barrage.RawEvent) *barrage.Event {
	env := raw.Env()
	if env.RoomID == 0 || env.MsgID == 0 {
		n.logger.Warn("dropping raw event with malformed envelope",
			zap.Int64("roomID", env.RoomID),
			zap.Int64("msgID", env.MsgID),
		)
		return nil
	}
	if !n.roomAllowed(env.RoomID) {
		return nil
	}

	switch m := raw.(type) {
	case *barrage.RawChat:
		evt := n.newEvent(barrage.KindChat, env, m.User)
		evt.Content = fmt.Sprintf("%s: %s", nicknameOf(evt.User), m.Content)
		return evt

	case *barrage.RawLike:
		evt := n.newEvent(barrage.KindLike, env, m.User)
		evt.Count = m.Count
		evt.Total = m.Total
		evt.Content = fmt.Sprintf("%s 为主播点了%d个赞，总点赞%d", nicknameOf(evt.User), m.Count, m.Total)
		return evt

	case *barrage.RawMember:
		evt := n.newEvent(barrage.KindMember, env, m.User)
		evt.CurrentCount = m.MemberCount
		evt.EnterTipType = m.EnterTipType
		tip := ""
		if m.EnterTipType == enterTipShare {
			tip = "通过分享"
		}
		evt.Content = fmt.Sprintf("%s %s来了 直播间人数:%d", nicknameOf(evt.User), tip, m.MemberCount)
		return evt

	case *barrage.RawSocial:
		switch m.Action {
		case actionFollow:
			evt := n.newEvent(barrage.KindFollow, env, m.User)
			evt.Content = fmt.Sprintf("%s 关注了主播", nicknameOf(evt.User))
			return evt
		case actionShare:
			evt := n.newEvent(barrage.KindShare, env, m.User)
			evt.ShareTarget = parseShareTarget(m.ShareTarget)
			evt.Content = fmt.Sprintf("%s 分享了直播间到%s", nicknameOf(evt.User), evt.ShareTarget)
			return evt
		default:
			return nil
		}

	case *barrage.RawGift:
		evt := n.newEvent(barrage.KindGift, env, m.User)
		evt.GiftID = m.GiftID
		evt.GiftName = m.GiftName
		evt.GroupID = m.GroupID
		evt.RepeatCount = m.RepeatCount
		evt.DiamondCount = m.DiamondCount
		evt.Combo = m.Combo
		evt.ImgURL = m.ImgURL
		if m.ToUser != nil {
			evt.ToUser = n.resolveUser(m.ToUser)
		}
		return evt

	case *barrage.RawRoomStats:
		evt := n.newEvent(barrage.KindRoomStats, env, nil)
		evt.OnlineUserCount = m.Total
		evt.TotalUserCount = m.TotalUser
		evt.OnlineUserCountStr = m.OnlineUserForAnchor
		evt.TotalUserCountStr = m.TotalPVForAnchor
		evt.Content = fmt.Sprintf("当前直播间人数 %s，累计直播间人数 %s", m.OnlineUserForAnchor, m.TotalPVForAnchor)
		return evt

	case *barrage.RawFanClub:
		evt := n.newEvent(barrage.KindFanClub, env, m.User)
		evt.FanClubAction = barrage.FanClubAction(m.Type)
		if evt.User != nil {
			evt.FanClubLevel = evt.User.FansClub.Level
		}
		evt.Content = m.Content
		return evt

	case *barrage.RawControl:
		if m.Status != statusStreamEnded {
			return nil
		}
		evt := n.newEvent(barrage.KindStreamEnd, env, nil)
		evt.Content = "直播已结束"
		return evt

	default:
		n.logger.Warn("dropping raw event of unknown variant")
		return nil
	}
}

// RenderGift builds the gift content line once the reconciled increment is
// known.
func RenderGift(evt *barrage.Event) string {
	combo := ""
	if evt.Combo {
		combo = "(可连击)"
	}
	content := fmt.Sprintf("%s 送出 %s%s x %d个，增量%d个",
		nicknameOf(evt.User), evt.GiftName, combo, evt.RepeatCount, evt.GiftCount)
	if evt.ToUser != nil {
		content += fmt.Sprintf("，给%s", evt.ToUser.Nickname)
	}
	return content
}

// newEvent builds the base event: envelope fields, resolved user, and the
// room enrichment (admin/anchor flags, owner snapshot, web room metadata).
func (n *Normalizer) newEvent(kind barrage.EventKind, env barrage.Envelope, rawUser *barrage.RawUser) *barrage.Event {
	roomID := strconv.FormatInt(env.RoomID, 10)
	evt := &barrage.Event{
		Kind:   kind,
		MsgID:  env.MsgID,
		RoomID: roomID,
		AppID:  strconv.FormatInt(env.AppID, 10),
	}
	if rawUser != nil {
		evt.User = n.resolveUser(rawUser)
	}

	info, ok := n.rooms.Lookup(roomID)
	if !ok {
		return evt
	}

	evt.WebRoomID = info.WebRoomID
	evt.RoomTitle = info.Title
	evt.IsAnonymous = info.IsAnonymous
	if info.Owner != nil {
		evt.Owner = &barrage.AnchorInfo{
			UserID:       info.Owner.UserID,
			SecUID:       info.Owner.SecUID,
			Nickname:     info.Owner.Nickname,
			HeadURL:      info.Owner.HeadURL,
			FollowStatus: info.Owner.FollowStatus,
		}
	}
	if evt.User != nil {
		userID := strconv.FormatInt(evt.User.ID, 10)
		evt.User.IsAdmin = info.IsAdmin(userID)
		evt.User.IsAnchor = info.IsOwner(userID)
	}
	return evt
}

func (n *Normalizer) resolveUser(raw *barrage.RawUser) *barrage.User {
	nickname := raw.Nickname
	if nickname == "" {
		nickname = "用户" + raw.DisplayID
	}
	return &barrage.User{
		ID:             raw.ID,
		ShortID:        raw.ShortID,
		DisplayID:      raw.DisplayID,
		Nickname:       nickname,
		Level:          raw.Level,
		PayLevel:       raw.PayLevel,
		Gender:         barrage.Gender(raw.Gender),
		HeadImgURL:     raw.AvatarURL,
		SecUID:         raw.SecUID,
		FollowerCount:  raw.FollowerCount,
		FollowingCount: raw.FollowingCount,
		FollowStatus:   raw.FollowStatus,
		FansClub: barrage.FansClub{
			ClubName: raw.FansClubName,
			Level:    raw.FansClubLevel,
		},
	}
}

// roomAllowed applies the web room allow-list. Rooms with no resolvable web
// room id always pass, so events are not lost while the cache warms up.
func (n *Normalizer) roomAllowed(roomID int64) bool {
	if len(n.allowedRooms) == 0 {
		return true
	}
	info, ok := n.rooms.Lookup(strconv.FormatInt(roomID, 10))
	if !ok || info.WebRoomID == "" {
		return true
	}
	_, listed := n.allowedRooms[info.WebRoomID]
	return listed
}

func nicknameOf(u *barrage.User) string {
	if u == nil {
		return ""
	}
	return u.Nickname
}

func parseShareTarget(raw string) barrage.ShareTarget {
	code, err := strconv.Atoi(raw)
	if err != nil {
		return barrage.ShareUnknown
	}
	return barrage.ParseShareTarget(code)
}
