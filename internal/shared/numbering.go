package shared

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentNumber builds a human readable document number such as
// REQ-20240131-1A2B3C4D.
func DocumentNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + "-" + at.Format("20060102") + "-" + suffix
}

// RetryNumberClash calls create a second time when the first attempt lost its
// document number to another document. create must draw a fresh number on
// every call.
func RetryNumberClash(create func() error) error {
	err := create()
	if errors.Is(err, ErrNumberTaken) {
		err = create()
	}
	return err
}
