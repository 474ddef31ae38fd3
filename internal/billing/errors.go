package billing

import (
	"fmt"
	"time"
)

// InvalidRangeError reports a billing range that is empty or inverted.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid billing range: start %s is not before end %s",
		e.Start.Format(time.DateTime), e.End.Format(time.DateTime))
}
