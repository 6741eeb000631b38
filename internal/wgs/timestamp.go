package wgs

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// unixEpochTicks is the number of 100ns ticks between 1601-01-01 and
	// 1970-01-01.
	unixEpochTicks = 116444736000000000
	ticksPerSecond = 10000000
)

// Timestamp is a Windows FILETIME: 100-nanosecond ticks since 1601-01-01 UTC.
type Timestamp uint64

// TimestampFromTime converts t, truncating to tick resolution.
func TimestampFromTime(t time.Time) Timestamp {
	ticks := t.Unix()*ticksPerSecond + int64(t.Nanosecond()/100)
	return Timestamp(ticks + unixEpochTicks)
}

// TimestampFromUnix converts fractional Unix seconds.
func TimestampFromUnix(sec float64) Timestamp {
	return Timestamp(int64(math.Round(sec*ticksPerSecond)) + unixEpochTicks)
}

func TimestampFromBytes(b [8]byte) Timestamp {
	return Timestamp(binary.LittleEndian.Uint64(b[:]))
}

func TimestampNow() Timestamp {
	return TimestampFromTime(time.Now())
}

func (ts Timestamp) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(ts))
	return b
}

// Unix returns fractional Unix seconds.
func (ts Timestamp) Unix() float64 {
	return float64(int64(ts)-unixEpochTicks) / ticksPerSecond
}

func (ts Timestamp) Time() time.Time {
	ticks := int64(ts) - unixEpochTicks
	return time.Unix(ticks/ticksPerSecond, (ticks%ticksPerSecond)*100).UTC()
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}
