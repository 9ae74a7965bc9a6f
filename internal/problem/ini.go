package problem

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ParseINI parses domjudge-problem.ini. Keys accept dashes or underscores.
func ParseINI(content string) (INI, error) {
	var ini INI
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		switch key {
		case "short_name":
			ini.ShortName = value
		case "timelimit":
			limit, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return INI{}, fmt.Errorf("invalid timelimit %q: %w", value, err)
			}
			ini.TimeLimit = limit
		case "color":
			ini.Color = value
		case "externalid":
			ini.ExternalID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return INI{}, err
	}
	if ini.ShortName == "" {
		return INI{}, fmt.Errorf("%s: missing short-name", iniPath)
	}
	return ini, nil
}

// String renders the ini file.
func (i INI) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "short-name = %s\n", i.ShortName)
	fmt.Fprintf(&b, "timelimit = %s\n", strconv.FormatFloat(i.TimeLimit, 'f', -1, 64))
	fmt.Fprintf(&b, "color = %s\n", i.Color)
	fmt.Fprintf(&b, "externalid = %s\n", i.ExternalID)
	return b.String()
}
