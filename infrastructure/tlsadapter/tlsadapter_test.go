package tlsadapter

import (
	"testing"

	"quictransport/domain/wire"
)

func TestLevelRoundTrip(t *testing.T) {
	levels := []wire.Level{wire.LevelInitial, wire.LevelZeroRTT, wire.LevelHandshake, wire.LevelApplication}
	for _, l := range levels {
		if got := levelFromTLS(levelToTLS(l)); got != l {
			t.Fatalf("level %s round-tripped to %s", l, got)
		}
	}
}
