package session

import (
	"crypto/md5"
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// Banner rendering. Each session gets a deterministic box-drawn header so
// re-attaching to a tmux session is visually unambiguous: the same session
// always renders the same color and ornament.

var bannerColors = []string{
	"39",  // blue
	"41",  // green
	"135", // purple
	"208", // orange
	"161", // magenta
	"37",  // teal
	"178", // gold
	"124", // red
}

var bannerOrnaments = []string{
	"◆", "●", "▲", "■", "✦", "❖", "◈", "✹",
}

const bannerWidth = 60

// bannerOutput forces ANSI-256 so banner output is identical regardless of
// the terminal the tmux client later attaches from.
var bannerOutput = termenv.NewOutput(io.Discard, termenv.WithProfile(termenv.ANSI256))

// RenderBanner draws the session header. Color and ornament are picked by
// hashing the session ID, so a session keeps its look across revives.
func RenderBanner(s *Session) string {
	digest := md5.Sum([]byte(s.ID))
	color := termenv.ANSI256.Color(bannerColors[int(digest[0])%len(bannerColors)])
	ornament := bannerOrnaments[int(digest[1])%len(bannerOrnaments)]

	paint := func(text string) string {
		return bannerOutput.String(text).Foreground(color).String()
	}

	title := fmt.Sprintf("%s %s %s", ornament, s.DisplayTitle(), ornament)
	lines := []string{
		paint("╭" + strings.Repeat("─", bannerWidth-2) + "╮"),
		paint("│") + centerPad(title, bannerWidth-2) + paint("│"),
	}
	if s.Prompt != "" {
		prompt := s.Prompt
		if runes := []rune(prompt); len(runes) > bannerWidth-6 {
			prompt = string(runes[:bannerWidth-9]) + "..."
		}
		lines = append(lines, paint("│")+centerPad(prompt, bannerWidth-2)+paint("│"))
	}
	lines = append(lines, paint("╰"+strings.Repeat("─", bannerWidth-2)+"╯"))

	return strings.Join(lines, "\n")
}

// centerPad centers text in a field of the given rune width. Text wider than
// the field is returned unchanged.
func centerPad(text string, width int) string {
	runes := len([]rune(text))
	if runes >= width {
		return text
	}
	left := (width - runes) / 2
	right := width - runes - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}
