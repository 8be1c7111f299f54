package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Open flags.
const (
	O_RDONLY  = 0x0000000
	O_WRONLY  = 0x0000001
	O_RDWR    = 0x0000002
	O_ACCMODE = 0x0000003
	O_CREAT   = 0x0000100
	O_EXCL    = 0x0000200
	O_TRUNC   = 0x0001000
	O_APPEND  = 0x0002000
)

// Seek origins.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

type descriptor struct {
	path  string
	URL   string
	flags int
	pos   int64
	data  []byte
	refs  int
}

func (d *descriptor) readable() bool {
	mode := d.flags & O_ACCMODE
	return mode == O_RDONLY || mode == O_RDWR
}

func (d *descriptor) writable() bool {
	mode := d.flags & O_ACCMODE
	return mode == O_WRONLY || mode == O_RDWR
}

type directory struct {
	URL     string
	entries []*FileInfo
	next    int
}

// Service is a descriptor based file system over an afs store. File content
// is cached on open and written through on every write.
type Service struct {
	config Config
	fs     afs.Service
	mu     sync.Mutex
	files  []*descriptor
	dirs   []*directory
}

// New creates the file system rooted at config.BaseURL, creating the root
// folder when missing.
func New(ctx context.Context, fs afs.Service, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if fs == nil {
		fs = afs.New()
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create vfs root %s: %w", baseURL, err)
		}
	}
	config.BaseURL = baseURL
	return &Service{
		config: config,
		fs:     fs,
		files:  make([]*descriptor, config.MaxFD),
		dirs:   make([]*directory, config.MaxDir),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

func (s *Service) resolve(name string) string {
	cleaned := path.Clean("/" + name)
	if cleaned == "/" {
		return s.config.BaseURL
	}
	return url.Join(s.config.BaseURL, strings.TrimPrefix(cleaned, "/"))
}

func (s *Service) stat(ctx context.Context, URL string) (*FileInfo, error) {
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", EIO, err)
	}
	if !exists {
		return nil, ENOENT
	}
	object, err := s.fs.Object(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", EIO, err)
	}
	return &FileInfo{
		Name:    path.Base(url.Path(URL)),
		Size:    uint32(object.Size()),
		ModTime: object.ModTime(),
		IsDir:   object.IsDir(),
	}, nil
}

// Open opens name with POSIX flags and returns a descriptor. O_CREAT creates
// a missing file and O_EXCL makes an existing one an error. O_TRUNC empties
// the file and O_APPEND starts at its end.
func (s *Service) Open(ctx context.Context, name string, flags int) (int, error) {
	if name == "" {
		return -1, EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fd := -1
	for i, candidate := range s.files {
		if candidate == nil {
			fd = i
			break
		}
	}
	if fd == -1 {
		return -1, ENOSPC
	}
	URL := s.resolve(name)
	info, err := s.stat(ctx, URL)
	exists := err == nil
	if err != nil && !errors.Is(err, ENOENT) {
		return -1, err
	}
	switch {
	case exists && info.IsDir:
		return -1, EISDIR
	case !exists && flags&O_CREAT == 0:
		return -1, ENOENT
	case exists && flags&O_CREAT != 0 && flags&O_EXCL != 0:
		return -1, EEXIST
	}
	var data []byte
	if exists && flags&O_TRUNC == 0 {
		if data, err = s.fs.DownloadWithURL(ctx, URL); err != nil {
			return -1, fmt.Errorf("%w: %v", EIO, err)
		}
	} else if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(nil)); err != nil {
		return -1, fmt.Errorf("%w: %v", EIO, err)
	}
	desc := &descriptor{path: name, URL: URL, flags: flags, data: data, refs: 1}
	if flags&O_APPEND != 0 {
		desc.pos = int64(len(data))
	}
	s.files[fd] = desc
	return fd, nil
}

func (s *Service) descriptor(fd int) (*descriptor, error) {
	if fd < 0 || fd >= len(s.files) || s.files[fd] == nil {
		return nil, EBADF
	}
	return s.files[fd], nil
}

// Read returns up to n bytes from the current position. The length is
// clamped to what is left in the file, so end of file reads return no data.
func (s *Service) Read(ctx context.Context, fd int, n int) ([]byte, error) {
	if n < 0 {
		return nil, EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, err := s.descriptor(fd)
	if err != nil {
		return nil, err
	}
	if !desc.readable() {
		return nil, EBADF
	}
	left := int64(len(desc.data)) - desc.pos
	if left <= 0 {
		return []byte{}, nil
	}
	if int64(n) > left {
		n = int(left)
	}
	ret := make([]byte, n)
	copy(ret, desc.data[desc.pos:])
	desc.pos += int64(n)
	return ret, nil
}

// Write stores data at the current position, growing the file as needed, and
// persists the file.
func (s *Service) Write(ctx context.Context, fd int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, err := s.descriptor(fd)
	if err != nil {
		return -1, err
	}
	if !desc.writable() {
		return -1, EBADF
	}
	end := desc.pos + int64(len(data))
	content := desc.data
	if end > int64(len(content)) {
		content = make([]byte, end)
		copy(content, desc.data)
	}
	copy(content[desc.pos:], data)
	if err = s.fs.Upload(ctx, desc.URL, file.DefaultFileOsMode, bytes.NewReader(content)); err != nil {
		return -1, fmt.Errorf("%w: %v", EIO, err)
	}
	desc.data = content
	desc.pos = end
	return len(data), nil
}

// Lseek moves the position of fd. Negative offsets and unknown origins are
// rejected and leave the position unchanged; seeking past the end is allowed.
func (s *Service) Lseek(ctx context.Context, fd int, offset int64, whence int) (int64, error) {
	if offset < 0 {
		return -1, EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, err := s.descriptor(fd)
	if err != nil {
		return -1, err
	}
	switch whence {
	case SeekSet:
		desc.pos = offset
	case SeekCur:
		desc.pos += offset
	case SeekEnd:
		desc.pos = int64(len(desc.data)) + offset
	default:
		return -1, EINVAL
	}
	return desc.pos, nil
}

// Close drops a reference to fd and releases it with the last one.
func (s *Service) Close(ctx context.Context, fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, err := s.descriptor(fd)
	if err != nil {
		return err
	}
	if desc.refs--; desc.refs <= 0 {
		s.files[fd] = nil
	}
	return nil
}

// Size returns the current length of the file behind fd.
func (s *Service) Size(fd int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, err := s.descriptor(fd)
	if err != nil {
		return -1, err
	}
	return int64(len(desc.data)), nil
}

// Unlink removes a file.
func (s *Service) Unlink(ctx context.Context, name string) error {
	if name == "" {
		return EINVAL
	}
	URL := s.resolve(name)
	info, err := s.stat(ctx, URL)
	if err != nil {
		return err
	}
	if info.IsDir {
		return EISDIR
	}
	if err = s.fs.Delete(ctx, URL); err != nil {
		return fmt.Errorf("%w: %v", EIO, err)
	}
	return nil
}

// Stat describes name.
func (s *Service) Stat(ctx context.Context, name string) (*FileInfo, error) {
	if name == "" {
		return nil, EINVAL
	}
	return s.stat(ctx, s.resolve(name))
}

// Opendir snapshots the entries of a directory and returns a handle for
// Readdir.
func (s *Service) Opendir(ctx context.Context, name string) (int, error) {
	if name == "" {
		return -1, EINVAL
	}
	URL := s.resolve(name)
	info, err := s.stat(ctx, URL)
	if err != nil {
		return -1, err
	}
	if !info.IsDir {
		return -1, ENOENT
	}
	objects, err := s.fs.List(ctx, URL)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", EIO, err)
	}
	dir := &directory{URL: URL}
	for _, object := range objects {
		if strings.TrimRight(object.URL(), "/") == URL {
			continue
		}
		dir.entries = append(dir.entries, &FileInfo{
			Name:    object.Name(),
			Size:    uint32(object.Size()),
			ModTime: object.ModTime(),
			IsDir:   object.IsDir(),
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.dirs {
		if candidate == nil {
			s.dirs[i] = dir
			return i, nil
		}
	}
	return -1, ENOSPC
}

// Readdir returns the next entry of dir, or nil once all were read.
func (s *Service) Readdir(ctx context.Context, dir int) (*FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir < 0 || dir >= len(s.dirs) || s.dirs[dir] == nil {
		return nil, EBADF
	}
	aDir := s.dirs[dir]
	if aDir.next >= len(aDir.entries) {
		return nil, nil
	}
	aDir.next++
	return aDir.entries[aDir.next-1], nil
}

// Closedir releases a directory handle.
func (s *Service) Closedir(ctx context.Context, dir int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir < 0 || dir >= len(s.dirs) || s.dirs[dir] == nil {
		return EBADF
	}
	s.dirs[dir] = nil
	return nil
}
