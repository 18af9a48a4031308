package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// GenerateEDL renders the intervals as a CMX3600 edit decision list with
// one event per interval, laid back to back on the record side.
func GenerateEDL(report Report, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	base := strings.TrimSuffix(report.VideoID, filepath.Ext(report.VideoID))
	recordOffset := 0.0
	for i, iv := range report.Intervals {
		srcIn := secondsToTimecode(iv.Start, fps)
		srcOut := secondsToTimecode(iv.End, fps)
		recIn := secondsToTimecode(recordOffset, fps)
		recOut := secondsToTimecode(recordOffset+iv.Duration(), fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ClipFileName(base, iv.Start, iv.End)),
		)
		if report.SourcePath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", report.SourcePath))
		}

		recordOffset += iv.Duration()
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToTimecode(sec float64, fps int) string {
	totalFrames := int(math.Round(sec * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
