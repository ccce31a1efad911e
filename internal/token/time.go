package token

import "time"

func unixToTime(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}
