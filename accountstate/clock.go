package accountstate

import "time"

// nowMillis returns the current time as milliseconds since the Unix
// epoch, matching the millisecond-timestamp convention every expiry and
// "knownUnverifiedAt"/"lastNotifiedUserAt" field in this package uses.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
