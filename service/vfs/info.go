package vfs

import (
	"encoding/binary"
	"time"
)

const (
	// NameSize bounds a directory entry name including its terminating NUL.
	NameSize = 256
	// InfoSize is the size of an encoded FileInfo record.
	InfoSize = 4 + 2 + 2 + 1 + NameSize

	AttrDir     = 0x10
	AttrArchive = 0x20
)

// FileInfo describes a file or directory entry.
type FileInfo struct {
	Name    string
	Size    uint32
	ModTime time.Time
	IsDir   bool
}

// Attr returns the entry attribute bits.
func (i *FileInfo) Attr() uint8 {
	if i.IsDir {
		return AttrDir
	}
	return AttrArchive
}

// Date returns the packed FAT date: years since 1980, month and day.
func (i *FileInfo) Date() uint16 {
	t := i.ModTime
	if t.Year() < 1980 {
		return 0
	}
	return uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
}

// Time returns the packed FAT time with two second resolution.
func (i *FileInfo) Time() uint16 {
	t := i.ModTime
	if t.Year() < 1980 {
		return 0
	}
	return uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
}

// Encode lays the entry out as the little-endian record user programs read:
// size, date, time, attribute and a NUL padded name. A nil entry encodes as
// an all-zero record, which marks the end of a directory.
func (i *FileInfo) Encode() []byte {
	ret := make([]byte, InfoSize)
	if i == nil {
		return ret
	}
	binary.LittleEndian.PutUint32(ret[0:], i.Size)
	binary.LittleEndian.PutUint16(ret[4:], i.Date())
	binary.LittleEndian.PutUint16(ret[6:], i.Time())
	ret[8] = i.Attr()
	name := i.Name
	if len(name) > NameSize-1 {
		name = name[:NameSize-1]
	}
	copy(ret[9:], name)
	return ret
}
