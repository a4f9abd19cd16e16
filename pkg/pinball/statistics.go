// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"fmt"
	"time"

	"github.com/pinbus/pinbus/pkg/canbus"
)

// Statistics tracks frame counts and error rates. It is not synchronised;
// the owner of the router (or monitor loop) updates and reads it.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	Requests        uint64
	Commands        uint64
	DroppedFrames   uint64 // no channel registered for the feature type
	SentFrames      uint64
	SendErrors      uint64
	InvalidFrames   uint64
	StandardFrames  uint64
	LengthOverflows uint64
	ReservedBits    uint64
	ShortPayloads   uint64

	FeatureRX [MaxFeatures]uint64
	FeatureTX [MaxFeatures]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts a frame observed on the bus along with its validation
// result.
func (s *Statistics) Update(f canbus.Frame, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if len(validationErrors) > 0 {
		s.InvalidFrames++
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyStandardID:
				s.StandardFrames++
			case AnomalyLengthOverflow:
				s.LengthOverflows++
			case AnomalyReservedBits:
				s.ReservedBits++
			case AnomalyShortPayload:
				s.ShortPayloads++
			}
		}
		if !f.Extended {
			return
		}
	} else {
		s.ValidFrames++
	}

	s.countKind(Decode(f))
}

func (s *Statistics) countKind(m Message) {
	switch m.Kind {
	case KindRequest:
		s.Requests++
	case KindCommand:
		s.Commands++
	}
	if int(m.FeatureType) < MaxFeatures {
		s.FeatureRX[m.FeatureType]++
	}
}

func (s *Statistics) recordReceived(m Message) {
	s.TotalFrames++
	s.ValidFrames++
	s.LastUpdateTime = time.Now()
	s.countKind(m)
}

func (s *Statistics) recordDropped() {
	s.TotalFrames++
	s.DroppedFrames++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordSent(m Message) {
	s.SentFrames++
	if int(m.FeatureType) < MaxFeatures {
		s.FeatureTX[m.FeatureType]++
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.InvalidFrames+s.SendErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, invalidPercent, droppedPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		invalidPercent = float64(s.InvalidFrames) * 100.0 / float64(s.TotalFrames)
		droppedPercent = float64(s.DroppedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	result += fmt.Sprintf("  Requests:         %5d\n", s.Requests)
	result += fmt.Sprintf("  Commands:         %5d\n", s.Commands)

	if s.DroppedFrames > 0 {
		result += fmt.Sprintf("Dropped Frames:  %8d (%.1f%%)\n", s.DroppedFrames, droppedPercent)
	}
	if s.InvalidFrames > 0 {
		result += fmt.Sprintf("Invalid Frames:  %8d (%.1f%%)\n", s.InvalidFrames, invalidPercent)
		if s.StandardFrames > 0 {
			result += fmt.Sprintf("  Standard ID:      %5d\n", s.StandardFrames)
		}
		if s.LengthOverflows > 0 {
			result += fmt.Sprintf("  Length Overflow:  %5d\n", s.LengthOverflows)
		}
		if s.ReservedBits > 0 {
			result += fmt.Sprintf("  Reserved Bits:    %5d\n", s.ReservedBits)
		}
		if s.ShortPayloads > 0 {
			result += fmt.Sprintf("  Short Payload:    %5d\n", s.ShortPayloads)
		}
	}
	if s.SentFrames > 0 || s.SendErrors > 0 {
		result += fmt.Sprintf("Sent Frames:     %8d\n", s.SentFrames)
	}
	if s.SendErrors > 0 {
		result += fmt.Sprintf("Send Errors:     %8d\n", s.SendErrors)
	}

	for i := 0; i < MaxFeatures; i++ {
		if s.FeatureRX[i] > 0 || s.FeatureTX[i] > 0 {
			result += fmt.Sprintf("  %-12s rx %6d  tx %6d\n",
				FormatFeatureType(FeatureType(i)), s.FeatureRX[i], s.FeatureTX[i])
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
