package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// discordSession is the subset of *discordgo.Session used to post messages.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts reports to Discord channels. Channel ids are Discord
// channel snowflakes.
type Discord struct {
	session discordSession
}

// NewDiscord creates a bot session authenticated with token. The session
// only uses the REST API, so no gateway connection is opened.
func NewDiscord(token string) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: create discord session: %w", err)
	}
	return &Discord{session: s}, nil
}

func (d *Discord) Send(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitMessage(text, discordMaxLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("notify: discord send to %s: %w", channelID, err)
		}
	}
	return nil
}

const discordMaxLen = 2000

// splitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n') + 1
		if cut == 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
