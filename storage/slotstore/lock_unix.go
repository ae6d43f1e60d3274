//go:build unix

package slotstore

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile 对数据文件加排他的非阻塞 flock 建议锁
// 同一数据文件同时只允许一个 Store 打开
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrLocked
	}
	return err
}

// unlockFile 释放 lockFile 获得的锁
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
