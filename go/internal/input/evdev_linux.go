//go:build linux

package input

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value      int32
	Min        int32
	Max        int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
func evioCGAbs(code int) uintptr {
	return ioc(iocRead, uint32('E'), uint32(0x40+code), uint32(unsafe.Sizeof(absInfo{})))
}

// EVIOCGRAB = _IOW('E', 0x90, int)
func evioCGrab() uintptr {
	return ioc(iocWrite, uint32('E'), 0x90, uint32(unsafe.Sizeof(int32(0))))
}

func getAbsInfo(fd int, code int) (absInfo, error) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGAbs(code), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absInfo{}, errno
	}
	return info, nil
}

// inputEventSize is sizeof(struct input_event) for this platform.
var inputEventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

// Evdev reads a Linux multitouch device (e.g. /dev/input/event2).
type Evdev struct {
	Path   string
	Width  float64
	Height float64
	// Grab takes exclusive access so the desktop does not also react.
	Grab bool
}

// Bind implements Source.
func (e *Evdev) Bind(ctx context.Context) (<-chan Event, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("open input device: %w", err)
	}
	fd := int(f.Fd())

	x, errX := getAbsInfo(fd, absMTPositionX)
	y, errY := getAbsInfo(fd, absMTPositionY)
	if errX != nil || errY != nil {
		f.Close()
		return nil, fmt.Errorf("%s is not a multitouch device", e.Path)
	}
	if e.Grab {
		var one int32 = 1
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGrab(), uintptr(unsafe.Pointer(&one))); errno != 0 {
			log.Warn().Err(errno).Str("device", e.Path).Msg("failed to grab input device")
		}
	}

	dec := newMTDecoder(
		axisRange{min: x.Min, max: x.Max, pixels: e.Width},
		axisRange{min: y.Min, max: y.Max, pixels: e.Height},
	)

	out := make(chan Event)
	go func() {
		<-ctx.Done()
		f.Close()
	}()
	go func() {
		defer close(out)
		buf := make([]byte, inputEventSize*64)
		for {
			n, err := f.Read(buf)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("device", e.Path).Msg("input device read failed")
				}
				return
			}
			for off := 0; off+inputEventSize <= n; off += inputEventSize {
				raw := buf[off : off+inputEventSize]
				base := inputEventSize - 8
				etype := binary.LittleEndian.Uint16(raw[base : base+2])
				code := binary.LittleEndian.Uint16(raw[base+2 : base+4])
				value := int32(binary.LittleEndian.Uint32(raw[base+4 : base+8]))

				ev, ok := dec.feed(etype, code, value)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	log.Info().Str("device", e.Path).Msg("multitouch device bound")
	return out, nil
}
