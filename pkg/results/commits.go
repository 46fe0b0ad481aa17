package results

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/arewefast/pkg/store"
)

// CommitLogFormat is the git log --pretty format ParseCommitLog expects:
// hash, committer time in unix seconds and subject, separated by tabs.
const CommitLogFormat = "%H\t%ct\t%s"

// ErrShortCommitLine is returned for a log line with fewer than three fields.
var ErrShortCommitLine = errors.New("commit log line has fewer than 3 tab-separated fields")

// ParseCommitLog parses git log output written with CommitLogFormat. Blank
// lines are skipped. Messages are truncated to MaxCommitMessageLength.
func ParseCommitLog(out string) ([]*store.CommitRecord, error) {
	lines := strings.Split(out, "\n")
	records := make([]*store.CommitRecord, 0, len(lines))

	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d %q: %w", i+1, line, ErrShortCommitLine)
		}

		epoch, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing commit time %q: %w", i+1, fields[1], err)
		}

		records = append(records, &store.CommitRecord{
			SHA:     fields[0],
			Time:    time.Unix(epoch, 0).UTC(),
			Message: TruncateMessage(fields[2]),
		})
	}

	return records, nil
}

// TruncateMessage returns the first MaxCommitMessageLength characters of msg.
func TruncateMessage(msg string) string {
	if len(msg) <= store.MaxCommitMessageLength {
		return msg
	}

	runes := []rune(msg)
	if len(runes) <= store.MaxCommitMessageLength {
		return msg
	}

	return string(runes[:store.MaxCommitMessageLength])
}
