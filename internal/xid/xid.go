package xid

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxOrderCode is the largest integer the hosted checkout accepts (2^53 - 1).
const maxOrderCode = int64(9007199254740991)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// OrderCode returns a positive numeric gateway order code: the current unix
// millisecond followed by three random digits.
func OrderCode() int64 {
	return orderCodeAt(time.Now())
}

func orderCodeAt(at time.Time) int64 {
	suffix := int64(0)
	if id, err := uuid.NewRandom(); err == nil {
		suffix = int64(binary.BigEndian.Uint16(id[:2]) % 1000)
	} else {
		suffix = int64(at.Nanosecond() % 1000)
	}
	code := at.UnixMilli()*1000 + suffix
	if code > maxOrderCode {
		code %= maxOrderCode
	}
	return code
}
