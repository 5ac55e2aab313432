package idgen

import (
	"errors"
	"testing"

	"github.com/wyfcoding/tcpserver/config"
)

func TestSnowflakeUnique(t *testing.T) {
	g, err := NewGenerator(config.IDGenConfig{Type: "snowflake", MachineID: 3})
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[int64]struct{}, 1000)
	for range 1000 {
		id := g.Generate()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSonyflakeRejectsMachineID(t *testing.T) {
	if _, err := NewSonyflakeGenerator(config.IDGenConfig{MachineID: 70000}); !errors.Is(err, ErrInvalidMachineID) {
		t.Errorf("expected ErrInvalidMachineID, got %v", err)
	}
}

func TestSonyflakeIncreasing(t *testing.T) {
	g, err := NewSonyflakeGenerator(config.IDGenConfig{MachineID: 7})
	if err != nil {
		t.Fatal(err)
	}
	a, b := g.Generate(), g.Generate()
	if a <= 0 || b <= a {
		t.Errorf("expected increasing positive ids, got %d then %d", a, b)
	}
}

func TestSequence(t *testing.T) {
	g, err := NewGenerator(config.IDGenConfig{Type: "sequence"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Generate() != 1 || g.Generate() != 2 {
		t.Error("sequence should count from 1")
	}
}

func TestUnsupportedType(t *testing.T) {
	if _, err := NewGenerator(config.IDGenConfig{Type: "uuid"}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}
