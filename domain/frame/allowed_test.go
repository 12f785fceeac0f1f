package frame

import (
	"testing"

	"quictransport/domain/wire"
)

func TestAllowedInitialHandshake(t *testing.T) {
	allowed := []Type{TypePadding, TypePing, TypeACK, TypeACKECN, TypeCrypto, TypeConnectionCloseQUIC}
	forbidden := []Type{TypeStreamBase, TypeMaxData, TypeHandshakeDone, TypeConnectionCloseApp}

	for _, lvl := range []wire.Level{wire.LevelInitial, wire.LevelHandshake} {
		for _, ty := range allowed {
			if !Allowed(ty, lvl) {
				t.Errorf("%v should be allowed at %v", ty, lvl)
			}
		}
		for _, ty := range forbidden {
			if Allowed(ty, lvl) {
				t.Errorf("%v should be forbidden at %v", ty, lvl)
			}
		}
	}
}

func TestAllowedZeroRTT(t *testing.T) {
	if Allowed(TypePathResponse, wire.LevelZeroRTT) {
		t.Error("PATH_RESPONSE should be forbidden at 0-RTT")
	}
	if Allowed(TypeNewToken, wire.LevelZeroRTT) {
		t.Error("NEW_TOKEN should be forbidden at 0-RTT")
	}
	if !Allowed(TypeStreamBase, wire.LevelZeroRTT) {
		t.Error("STREAM should be allowed at 0-RTT")
	}
}

func TestAllowedApplication(t *testing.T) {
	for _, ty := range []Type{TypePathResponse, TypeNewToken, TypeHandshakeDone, TypeConnectionCloseApp, TypeStreamBase} {
		if !Allowed(ty, wire.LevelApplication) {
			t.Errorf("%v should be allowed at 1-RTT", ty)
		}
	}
}
