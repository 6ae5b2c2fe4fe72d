// Package sharedmem provides POSIX named shared memory backing for the
// SPMC and MPSC ring buffers: a region created by one process and attached
// by others by name, under /dev/shm.
package sharedmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm/"

// SharedMemory is a named, memory-mapped region shared across processes.
// The creator owns the backing object: its Close unmaps and unlinks the
// name; an attacher's Close only unmaps.
type SharedMemory struct {
	name  string
	owns  bool
	bytes []byte
}

// Create makes a new named region of size bytes, recreating it if a
// region with that name already exists. The calling process owns it:
// Close will unlink the name as well as unmap.
func Create(name string, size int) (*SharedMemory, error) {
	path := shmDir + name
	unix.Unlink(path) // ignore error, matching shm_unlink-before-create below

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0666)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("sharedmem: ftruncate %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: mmap %s: %w", path, err)
	}

	return &SharedMemory{name: name, owns: true, bytes: data}, nil
}

// Attach maps an existing named region of size bytes. The calling process
// does not own it: Close only unmaps, leaving the region for its creator
// (or other attachers) to keep using.
func Attach(name string, size int) (*SharedMemory, error) {
	path := shmDir + name
	fd, err := unix.Open(path, unix.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: mmap %s: %w", path, err)
	}

	return &SharedMemory{name: name, owns: false, bytes: data}, nil
}

// Name returns the region's shm name.
func (s *SharedMemory) Name() string { return s.name }

// Size returns the mapped region's size in bytes.
func (s *SharedMemory) Size() int { return len(s.bytes) }

// Owns reports whether this handle created (rather than attached to) the
// region.
func (s *SharedMemory) Owns() bool { return s.owns }

// Bytes returns the mapped region.
func (s *SharedMemory) Bytes() []byte { return s.bytes }

// Close unmaps the region; an owning handle also unlinks its name.
func (s *SharedMemory) Close() error {
	if s.bytes == nil {
		return nil
	}
	err := unix.Munmap(s.bytes)
	s.bytes = nil
	if s.owns {
		unix.Unlink(shmDir + s.name)
	}
	return err
}
