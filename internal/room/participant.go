package room

import (
	"fmt"
	"math/rand/v2"
	"regexp"

	"collabcanvas/internal/protocol"
)

// Palette is used when a participant arrives without a usable colour.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B88B", "#52C9A8",
}

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Channel is the outbound half of a participant's connection.
type Channel interface {
	// Send queues msg without blocking. It reports false when the channel is
	// closed or cannot take more data.
	Send(msg []byte) bool
}

// Participant is a member of a room.
type Participant struct {
	Channel Channel
	ID      string
	Name    string
	Color   string
}

func (p Participant) user() protocol.User {
	return protocol.User{UserID: p.ID, UserName: p.Name, UserColor: p.Color}
}

// normalize fills in a display name and colour when the client did not send a
// usable one. Colour collisions between participants are allowed.
func (p *Participant) normalize() {
	if p.Name == "" {
		p.Name = fmt.Sprintf("User-%d", rand.IntN(10000))
	}
	if !colorPattern.MatchString(p.Color) {
		p.Color = Palette[rand.IntN(len(Palette))]
	}
}
