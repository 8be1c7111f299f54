package vm

import "fmt"

// SegmentSpec describes one static section of the user program.
type SegmentSpec struct {
	Name string `json:"name" yaml:"name"`
	VA   uint32 `json:"va" yaml:"va"`
	Size uint32 `json:"size" yaml:"size"`
	Perm int    `json:"perm" yaml:"perm"`
}

// Segment is a loaded section backed by frames shared by every task.
type Segment struct {
	SegmentSpec
	Pages []*Page
}

// Image is the single static user program: its sections are mapped by
// reference into every task, never copied.
type Image struct {
	Entry     uint32
	IdleEntry uint32
	Segments  []*Segment
}

// DefaultLayout returns the text/data/bss/rodata layout of the user image.
func DefaultLayout() []SegmentSpec {
	return []SegmentSpec{
		{Name: "text", VA: 0x00800000, Size: 4 * PageSize, Perm: PTEU},
		{Name: "data", VA: 0x00804000, Size: PageSize, Perm: PTEU | PTEW},
		{Name: "bss", VA: 0x00805000, Size: PageSize, Perm: PTEU | PTEW},
		{Name: "rodata", VA: 0x00806000, Size: PageSize, Perm: PTEU},
	}
}

// NewImage allocates frames for every section. The image holds its own
// reference on each frame so unmapping a task never frees shared sections.
func NewImage(pool *Pool, entry, idleEntry uint32, specs []SegmentSpec) (*Image, error) {
	ret := &Image{Entry: entry, IdleEntry: idleEntry}
	for _, spec := range specs {
		if spec.VA%PageSize != 0 {
			return nil, fmt.Errorf("segment %s: va %#x not page aligned", spec.Name, spec.VA)
		}
		segment := &Segment{SegmentSpec: spec}
		for off := uint32(0); off < spec.Size; off += PageSize {
			page, err := pool.Alloc(true)
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", spec.Name, err)
			}
			pool.Incref(page)
			segment.Pages = append(segment.Pages, page)
		}
		ret.Segments = append(ret.Segments, segment)
	}
	return ret, nil
}

// MapInto maps every section into as, sharing the frames.
func (i *Image) MapInto(as *AddressSpace) error {
	for _, segment := range i.Segments {
		for j, page := range segment.Pages {
			va := segment.VA + uint32(j)*PageSize
			if err := as.Insert(va, page, segment.Perm); err != nil {
				return fmt.Errorf("map %s at %#x: %w", segment.Name, va, err)
			}
		}
	}
	return nil
}

// Unmap removes the image sections from as.
func (i *Image) Unmap(as *AddressSpace) error {
	for _, segment := range i.Segments {
		for j := range segment.Pages {
			if err := as.Remove(segment.VA + uint32(j)*PageSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write stores data in the section covering va. It is how a loader places
// program bytes; tasks see the write through their shared mapping.
func (i *Image) Write(va uint32, data []byte) error {
	for _, segment := range i.Segments {
		end := segment.VA + uint32(len(segment.Pages))*PageSize
		if va < segment.VA || va+uint32(len(data)) > end {
			continue
		}
		for len(data) > 0 {
			page := segment.Pages[(va-segment.VA)/PageSize]
			n := copy(page.data[va%PageSize:], data)
			data = data[n:]
			va += uint32(n)
		}
		return nil
	}
	return fmt.Errorf("%w: %#x outside image", ErrFault, va)
}
