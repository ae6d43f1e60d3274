//go:build !unix

package slotstore

import "os"

// lockFile 在非 Unix 平台上不加锁，由调用方保证同一数据文件只被一个进程打开
func lockFile(f *os.File) error { return nil }

// unlockFile 在非 Unix 平台上不做任何事
func unlockFile(f *os.File) error { return nil }
