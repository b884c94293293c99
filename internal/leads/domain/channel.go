package domain

import "strings"

// Channel is the contact channel a lead came in through, and the delivery
// channel a follow-up goes out on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSocial   Channel = "social"
	ChannelWebChat  Channel = "webchat"
	ChannelEmail    Channel = "email"
	ChannelPhone    Channel = "phone"
	ChannelInPerson Channel = "in_person"
	ChannelUnknown  Channel = "unknown"
)

var channelAliases = map[string]Channel{
	"whatsapp":   ChannelWhatsApp,
	"wa":         ChannelWhatsApp,
	"instagram":  ChannelSocial,
	"facebook":   ChannelSocial,
	"social":     ChannelSocial,
	"webchat":    ChannelWebChat,
	"web":        ChannelWebChat,
	"site":       ChannelWebChat,
	"email":      ChannelEmail,
	"e-mail":     ChannelEmail,
	"phone":      ChannelPhone,
	"telefone":   ChannelPhone,
	"in_person":  ChannelInPerson,
	"presencial": ChannelInPerson,
	"unknown":    ChannelUnknown,
}

// ParseChannel maps free-text channel names onto the enumeration. Empty input
// stays empty (absent); anything unrecognised becomes ChannelUnknown.
func ParseChannel(raw string) Channel {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ""
	}
	if ch, ok := channelAliases[key]; ok {
		return ch
	}
	return ChannelUnknown
}

// IsDeliverable reports whether follow-ups can be sent on the channel.
func (c Channel) IsDeliverable() bool {
	return c == ChannelWhatsApp || c == ChannelEmail
}

// TravelType distinguishes domestic from international trips for checklists.
type TravelType string

const (
	TravelDomestic      TravelType = "domestic"
	TravelInternational TravelType = "international"
)

// ParseTravelType accepts English and Portuguese labels; anything else is unknown ("").
func ParseTravelType(raw string) TravelType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "domestic", "nacional", "national":
		return TravelDomestic
	case "international", "internacional":
		return TravelInternational
	default:
		return ""
	}
}
