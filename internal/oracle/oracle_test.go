package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

func TestManualOracle(t *testing.T) {
	m := NewManual()
	feed := common.BigToAddress(big.NewInt(0xF0))
	ctx := context.Background()

	if _, err := m.Observation(ctx, feed); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("empty oracle = %v, want ErrOracleUnavailable", err)
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Post(feed, big.NewInt(4_200), at)

	obs, err := m.Observation(ctx, feed)
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	if obs.Value.Int64() != 4_200 || !obs.ObservedAt.Equal(at) {
		t.Errorf("observation = %s at %s", obs.Value, obs.ObservedAt)
	}

	// Later posts replace earlier ones.
	m.Post(feed, big.NewInt(4_300), at.Add(time.Minute))
	obs, err = m.Observation(ctx, feed)
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	if obs.Value.Int64() != 4_300 {
		t.Errorf("value = %s, want 4300", obs.Value)
	}
}

func TestManualPostCopiesValue(t *testing.T) {
	m := NewManual()
	feed := common.BigToAddress(big.NewInt(0xF0))

	v := big.NewInt(100)
	m.Post(feed, v, time.Now())
	v.SetInt64(999)

	obs, err := m.Observation(context.Background(), feed)
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	if obs.Value.Int64() != 100 {
		t.Errorf("posted value aliased caller's big.Int: %s", obs.Value)
	}
}

func TestDecodeRoundData(t *testing.T) {
	word := func(v *big.Int) []byte {
		return common.LeftPadBytes(v.Bytes(), 32)
	}

	updatedAt := int64(1_772_400_000)
	out := make([]byte, 0, 5*32)
	out = append(out, word(big.NewInt(101))...)       // roundId
	out = append(out, word(big.NewInt(4_512_345))...) // answer
	out = append(out, word(big.NewInt(0))...)         // startedAt
	out = append(out, word(big.NewInt(updatedAt))...) // updatedAt
	out = append(out, word(big.NewInt(101))...)       // answeredInRound

	obs, err := decodeRoundData(out)
	if err != nil {
		t.Fatalf("decodeRoundData: %v", err)
	}
	if obs.Value.Int64() != 4_512_345 {
		t.Errorf("answer = %s, want 4512345", obs.Value)
	}
	if got := obs.ObservedAt.Unix(); got != updatedAt {
		t.Errorf("observed at = %d, want %d", got, updatedAt)
	}

	if _, err := decodeRoundData(out[:64]); err == nil {
		t.Error("short return data accepted")
	}
}

func TestDecodeInt256Negative(t *testing.T) {
	// -5 in two's complement over 256 bits.
	minusFive := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5))
	word := minusFive.Bytes()

	got := decodeInt256(word)
	if got.Int64() != -5 {
		t.Errorf("decodeInt256 = %s, want -5", got)
	}

	if got := decodeInt256(common.LeftPadBytes(big.NewInt(77).Bytes(), 32)); got.Int64() != 77 {
		t.Errorf("decodeInt256 positive = %s, want 77", got)
	}
}
