package problem

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/image/colornames"
)

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// HexColor normalizes a CSS color name or hex code to "#rrggbb".
func HexColor(color string) (string, error) {
	c := strings.TrimSpace(color)
	if m := hexColor.FindStringSubmatch(c); m != nil {
		h := strings.ToLower(m[1])
		if len(h) == 3 {
			h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
		}
		return "#" + h, nil
	}
	rgba, ok := colornames.Map[strings.ToLower(strings.ReplaceAll(c, " ", ""))]
	if !ok {
		return "", fmt.Errorf("unknown color %q", color)
	}
	return fmt.Sprintf("#%02x%02x%02x", rgba.R, rgba.G, rgba.B), nil
}
