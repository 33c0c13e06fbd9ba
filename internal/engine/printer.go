package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/dylive/barrage-relay/internal/barrage"
	"github.com/dylive/barrage-relay/internal/room"
)

var kindColors = map[barrage.EventKind]*color.Color{
	barrage.KindChat:      color.New(color.FgWhite),
	barrage.KindLike:      color.New(color.FgCyan),
	barrage.KindMember:    color.New(color.FgGreen),
	barrage.KindFollow:    color.New(color.FgYellow),
	barrage.KindGift:      color.New(color.FgRed),
	barrage.KindRoomStats: color.New(color.FgBlue),
	barrage.KindFanClub:   color.New(color.FgMagenta),
	barrage.KindShare:     color.New(color.FgHiCyan),
	barrage.KindStreamEnd: color.New(color.FgHiRed),
}

// Printer renders events to the console, one colored line per event.
type Printer struct {
	out   io.Writer
	rooms room.Provider
	now   func() time.Time
}

func NewPrinter(rooms room.Provider) *Printer {
	return &Printer{out: os.Stdout, rooms: rooms, now: time.Now}
}

// Print writes one line: timestamp, room label, kind, role badges, content.
func (p *Printer) Print(evt *barrage.Event) {
	line := fmt.Sprintf("%s [%s] [%s]", p.now().Format("15:04:05"), p.roomLabel(evt), evt.Kind)

	if evt.User != nil {
		if evt.User.IsAdmin {
			line += " [管理员]"
		}
		if evt.User.IsAnchor {
			line += " [主播]"
		}
		line += fmt.Sprintf(" [%s]", evt.User.Gender)
	}
	line += " " + evt.Content

	c := kindColors[evt.Kind]
	if c == nil {
		c = color.New(color.FgWhite)
	}
	_, _ = c.Fprintln(p.out, line)
}

// roomLabel prefers the owner's nickname, then the web room id, then the
// internal room id.
func (p *Printer) roomLabel(evt *barrage.Event) string {
	if info, ok := p.rooms.Lookup(evt.RoomID); ok && info.Owner != nil && info.Owner.Nickname != "" {
		return info.Owner.Nickname
	}
	if evt.WebRoomID != "" {
		return evt.WebRoomID
	}
	return evt.RoomID
}
