// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pinbus/pinbus/pkg/canbus"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomMessage builds a Command or Request with every field in range
func randomMessage(rng *rand.Rand) Message {
	m := Message{
		Priority:     uint8(rng.Intn(16)),
		UnitSpecific: rng.Intn(2) == 1,
		Address:      uint8(rng.Intn(256)),
		FeatureType:  FeatureType(rng.Intn(16)),
		FeatureNum:   uint8(rng.Intn(16)),
		Function:     uint8(rng.Intn(16)),
		Reserved:     uint8(rng.Intn(16)),
		Kind:         KindCommand,
		Len:          uint8(rng.Intn(MaxDataLen + 1)),
	}
	if rng.Intn(2) == 1 {
		m.Kind = KindRequest
	}
	for i := 0; i < int(m.Len); i++ {
		m.Data[i] = byte(rng.Intn(256))
	}
	return m
}

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		m := randomMessage(rng)
		f := Encode(m, m.Address)
		if err := f.Validate(); err != nil {
			t.Fatalf("round %d: encoded frame invalid: %v (%+v)", i, err, m)
		}
		if got := Decode(f); got != m {
			t.Fatalf("round %d: round trip mismatch:\n got  %+v\n want %+v", i, got, m)
		}
	}
}

func TestFuzz_DecodeEncode(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		f := canbus.Frame{
			ID:       rng.Uint32() & canbus.MaxExtendedID,
			Extended: true,
			Remote:   rng.Intn(2) == 1,
			Len:      uint8(rng.Intn(MaxDataLen + 1)),
		}
		for j := 0; j < int(f.Len); j++ {
			f.Data[j] = byte(rng.Intn(256))
		}
		m := Decode(f)
		if got := Encode(m, m.Address); got != f {
			t.Fatalf("round %d: frame mismatch: got %s want %s", i, got, f)
		}
	}
}

func TestFuzz_ValidateNeverPanics(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		f := canbus.Frame{
			ID:       rng.Uint32(),
			Extended: rng.Intn(2) == 1,
			Remote:   rng.Intn(2) == 1,
			Len:      uint8(rng.Intn(16)),
		}
		rng.Read(f.Data[:])
		ValidateFrame(f)
		FormatMessage(Decode(f))
		FormatFrame(f)
	}
}
