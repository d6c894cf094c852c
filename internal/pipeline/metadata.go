package pipeline

import (
	"fmt"
	"strings"
	"time"

	"serialreel/internal/config"
	"serialreel/internal/services/youtube"
)

// BuildMetadata templates the listing information for a serial's daily review
// video.
func BuildMetadata(serial config.Serial, day time.Time, privacyStatus string) youtube.Metadata {
	date := day.Format("January 2, 2006")
	name := strings.TrimSpace(serial.Name)
	hashtag := strings.ReplaceAll(name, " ", "")

	return youtube.Metadata{
		Title: fmt.Sprintf("%s - %s - Today Episode Full Review", name, date),
		Description: fmt.Sprintf(
			"%s Telugu Serial Review for %s\nDaily updates and reviews of your favorite Telugu serials.\n\n#TeluguSerial #%s",
			name, date, hashtag),
		Tags: []string{
			name + " Full Serial",
			name + " Episode Review",
			name + " Today Episode Review",
			"Telugu Serial",
			"Daily Update",
			"Episode Review",
			name,
			name + " Serial",
			name + " Review",
			"Telugu Daily Serial",
			"Star Maa Serials",
		},
		PrivacyStatus: privacyStatus,
	}
}
