package model

import (
	"fmt"
	"time"
)

// serverTimeLayouts are the timestamp formats the remote store has been
// observed to emit. RFC3339Nano covers the common case.
var serverTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
}

func parseServerTime(s string) (time.Time, error) {
	for _, layout := range serverTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
