package utils

import (
	"strconv"
	"sync/atomic"
	"time"
)

var requestSeq atomic.Uint64

// GenerateID 生成基于时间戳的ID
func GenerateID() int64 {
	return time.Now().UnixNano()
}

// RequestID 请求追踪ID，时间戳+自增序号
func RequestID() string {
	return strconv.FormatInt(GenerateID(), 36) + "-" + strconv.FormatUint(requestSeq.Add(1), 36)
}
