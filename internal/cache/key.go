package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// ComputedKey 拼出缓存真正使用的键：默认处理器（标识为空）时就是原始键，
// 否则为 key@processorID，保证同一原图不同处理结果互不覆盖。
func ComputedKey(key, processorID string) string {
	if processorID == "" {
		return key
	}
	return key + "@" + processorID
}

// Hash 返回磁盘文件名使用的 md5 十六进制摘要。
func Hash(computedKey string) string {
	sum := md5.Sum([]byte(computedKey))
	return hex.EncodeToString(sum[:])
}
