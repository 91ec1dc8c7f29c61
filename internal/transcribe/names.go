package transcribe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)
	extPattern      = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
)

const (
	reportTimeLayout = "20060102_150405"

	// leaves room for "_<timestamp>_<uid>.docx" within a 255 byte file name
	maxBaseBytes = 200
)

// splitUploadName turns a client supplied file name into a safe base name and
// a lower-cased extension.
func splitUploadName(filename string) (string, string) {
	name := strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "._-")
	base = strings.TrimRight(truncateBytes(base, maxBaseBytes), "._-")

	if base == "" {
		base = "audio"
	}
	if !extPattern.MatchString(ext) {
		ext = ".wav"
	}
	return base, ext
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func uploadName(filename, uid string) string {
	base, ext := splitUploadName(filename)
	return fmt.Sprintf("%s_%s%s", base, uid, ext)
}

// reserveReportName claims "<base>_<timestamp>.docx" in dir, falling back to
// a "_<uid>" suffix when that name is taken. The returned file exists and is empty.
func reserveReportName(dir, base string, at time.Time, uid string) (string, error) {
	stamp := at.Format(reportTimeLayout)
	candidates := []string{
		fmt.Sprintf("%s_%s.docx", base, stamp),
		fmt.Sprintf("%s_%s_%s.docx", base, stamp, uid),
	}

	for _, name := range candidates {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve report name: %w", err)
		}
		_ = f.Close()
		return name, nil
	}

	return "", fmt.Errorf("report name %s already taken", candidates[len(candidates)-1])
}
