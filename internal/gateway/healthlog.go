package gateway

import (
	"bufio"
	"os"
	"strings"
)

// ErrorMarker is the substring that promotes a health-log line to the
// error category of a HealthReportResp (spec.md §4.8).
const ErrorMarker = "ERROR"

// HealthLogReader returns the most recent line of the health-report
// log, decoupling the gateway session from how that log is produced
// (a real file on disk in production, a fixed string in tests).
type HealthLogReader interface {
	LastLine() (string, error)
}

// FileHealthLog reads the last line of a log file on each call. It
// does not keep the file open between calls, so log rotation between
// polls is transparent.
type FileHealthLog struct {
	Path string
}

// LastLine implements HealthLogReader by scanning the whole file and
// keeping the final non-empty line. Health logs are small and polled
// at most once per few seconds, so a full scan is simpler and just as
// correct as seeking from the end.
func (f FileHealthLog) LastLine() (string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var last string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return last, nil
}
