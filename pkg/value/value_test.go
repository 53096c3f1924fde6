package value

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromNativeRoundTrip(t *testing.T) {
	assert.True(t, FromNative(nil).IsNull())
	assert.Equal(t, int64(42), FromNative(int64(42)).Int())
	assert.Equal(t, int64(42), FromNative(int32(42)).Int())
	assert.Equal(t, int64(42), FromNative(42).Int())
	assert.Equal(t, int64(42), FromNative(uint64(42)).Int())
	assert.Equal(t, 3.5, FromNative(float32(3.5)).Float())
	assert.Equal(t, 3.5, FromNative(3.5).Float())
	assert.Equal(t, []byte("abc"), FromNative([]byte("abc")).Bytes())
	assert.Equal(t, "abc", FromNative("abc").String())

	now := time.Now()
	assert.True(t, now.Equal(FromNative(now).Time()))

	d := decimal.NewFromFloat(1.23)
	assert.True(t, d.Equal(FromNative(d).Decimal()))

	// Unknown types are stringified rather than dropped.
	v := FromNative(struct{ X int }{X: 1})
	assert.Equal(t, KindString, v.Kind)
}

func TestHexIdempotent(t *testing.T) {
	v := Bytes([]byte{0xde, 0xad, 0xbe, 0xef})
	hexed := v.Hex()
	assert.Equal(t, KindString, hexed.Kind)
	assert.Equal(t, "deadbeef", hexed.String())

	// Applying Hex a second time must not re-encode (spec.md §8 property 2).
	again := hexed.Hex()
	assert.Equal(t, hexed, again)
}

func TestHexLeavesNullAlone(t *testing.T) {
	assert.True(t, Null().Hex().IsNull())
}

func TestNative(t *testing.T) {
	assert.Nil(t, Null().Native())
	assert.Equal(t, int64(7), Int(7).Native())
	assert.Equal(t, "x", String("x").Native())
}
