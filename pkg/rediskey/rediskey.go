package rediskey

import "fmt"

// Request log keys (sorted sets scored by unix milliseconds)
const (
	RequestLogPrefix = "reqlog"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRequestLogKey returns "reqlog:{address}"
func BuildRequestLogKey(address string) string {
	return NamespaceKey(RequestLogPrefix, address)
}
