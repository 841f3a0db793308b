package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// PairMD5 计算两段数据组合后的MD5，用于图片+涂抹层的缓存键
func PairMD5(a, b []byte) string {
	hash := md5.New()
	hash.Write([]byte(BytesMD5(a)))
	hash.Write([]byte(BytesMD5(b)))
	return hex.EncodeToString(hash.Sum(nil))
}
