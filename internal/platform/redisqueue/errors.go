package redisqueue

import "errors"

// ErrRedisNotReady is returned by Connect when the server did not answer a
// ping within the configured attempts.
var ErrRedisNotReady = errors.New("redis did not become ready within the given attempts")
