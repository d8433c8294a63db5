package bidding

import (
	"time"

	model "live-auction/internal/models"
)

// ExtensionDecision is the outcome of the soft-close check for one bid
type ExtensionDecision struct {
	Extend            bool
	NewEndTime        time.Time
	NewExtensionCount int
}

// ShouldExtend reports whether a bid at bidTime pushes the close of a out.
// Extensions stack on the current end time, not on bidTime.
func ShouldExtend(a model.Auction, bidTime time.Time) ExtensionDecision {
	if !a.AutoExtendEnabled || a.AutoExtendMinutes <= 0 {
		return ExtensionDecision{}
	}
	if a.ExtensionCount >= a.MaxExtensions {
		return ExtensionDecision{}
	}

	window := time.Duration(a.AutoExtendMinutes) * time.Minute
	remaining := a.EndTime.Sub(bidTime)
	if remaining < 0 || remaining > window {
		return ExtensionDecision{}
	}

	return ExtensionDecision{
		Extend:            true,
		NewEndTime:        a.EndTime.Add(window),
		NewExtensionCount: a.ExtensionCount + 1,
	}
}
