package runner

import (
	"regexp"
	"strconv"
)

var progressPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// ParseProgress extracts a percentage from lines such as "step 3/16" or tqdm's "12/50".
// The last N/M pair on the line wins.
func ParseProgress(line string) (int, bool) {
	matches := progressPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	done, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || total <= 0 || done > total {
		return 0, false
	}
	return done * 100 / total, true
}
