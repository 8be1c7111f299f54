package vfs

import (
	"errors"
	"fmt"
)

// Errno is a file system error carried back to user space as its negated
// value.
type Errno int32

const (
	ENOENT Errno = 2
	EIO    Errno = 5
	EBADF  Errno = 9
	EFAULT Errno = 14
	EEXIST Errno = 17
	EISDIR Errno = 21
	EINVAL Errno = 22
	ENOSPC Errno = 28
)

var errnoNames = map[Errno]string{
	ENOENT: "no such file or directory",
	EIO:    "i/o error",
	EBADF:  "bad file descriptor",
	EFAULT: "bad address",
	EEXIST: "file exists",
	EISDIR: "is a directory",
	EINVAL: "invalid argument",
	ENOSPC: "no space left",
}

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int32(e))
}

// Code converts err into a syscall result: 0 for nil, the negated errno when
// err wraps an Errno and -EIO otherwise.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var errno Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(EIO)
}
