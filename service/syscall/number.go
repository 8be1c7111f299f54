package syscall

import "fmt"

// Number identifies a system call. The values are part of the user ABI.
type Number uint32

const (
	Fork Number = iota
	Getc
	Puts
	Getpid
	Getcid
	Sleep
	Kill
	GetNumFreePage
	GetNumUsedPage
	GetTicks
	SetTextColor
	Cls
	Open
	Read
	Write
	Close
	Lseek
	Unlink
	Opendir
	Closedir
	Readdir
	Stat
	numberCount
)

var names = [numberCount]string{
	"fork", "getc", "puts", "getpid", "getcid", "sleep", "kill",
	"get_num_free_page", "get_num_used_page", "get_ticks", "settextcolor", "cls",
	"open", "read", "write", "close", "lseek", "unlink",
	"opendir", "closedir", "readdir", "stat",
}

// Valid reports whether n is a known call.
func (n Number) Valid() bool {
	return n < numberCount
}

func (n Number) String() string {
	if n.Valid() {
		return names[n]
	}
	return fmt.Sprintf("syscall(%d)", uint32(n))
}
