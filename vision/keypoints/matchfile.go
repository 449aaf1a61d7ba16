package keypoints

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// maxDescriptorLength bounds the descriptor length accepted when reading, so a corrupt file
// cannot trigger a huge allocation.
const maxDescriptorLength = 1 << 16

// WriteBinaryMatchFile writes two index aligned point lists to path.
func WriteBinaryMatchFile(path string, pts1, pts2 InterestPoints) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "cannot create match file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := WriteMatches(w, pts1, pts2); err != nil {
		return errors.Wrapf(err, "cannot write match file %q", path)
	}
	return w.Flush()
}

// ReadBinaryMatchFile reads two point lists written by WriteBinaryMatchFile.
func ReadBinaryMatchFile(path string) (InterestPoints, InterestPoints, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot open match file")
	}
	pts1, pts2, err := ReadMatches(bufio.NewReader(f))
	if err != nil {
		return nil, nil, multierr.Combine(errors.Wrapf(err, "cannot read match file %q", path), f.Close())
	}
	return pts1, pts2, f.Close()
}

// WriteMatches encodes the lists as a little endian header of two uint64 counts followed by
// every point of the first list, then every point of the second.
func WriteMatches(w io.Writer, pts1, pts2 InterestPoints) error {
	if err := binary.Write(w, binary.LittleEndian, [2]uint64{uint64(len(pts1)), uint64(len(pts2))}); err != nil {
		return err
	}
	for _, pts := range []InterestPoints{pts1, pts2} {
		for i := range pts {
			if err := writeInterestPoint(w, &pts[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadMatches decodes the format written by WriteMatches.
func ReadMatches(r io.Reader) (InterestPoints, InterestPoints, error) {
	var sizes [2]uint64
	if err := binary.Read(r, binary.LittleEndian, &sizes); err != nil {
		return nil, nil, errors.Wrap(err, "cannot read header")
	}
	lists := make([]InterestPoints, 2)
	for l, size := range sizes {
		if size > math.MaxInt32 {
			return nil, nil, errors.Errorf("implausible point count %d", size)
		}
		lists[l] = make(InterestPoints, 0, min(size, 1<<16))
		for i := uint64(0); i < size; i++ {
			ip, err := readInterestPoint(r)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "cannot read point %d of list %d", i, l+1)
			}
			lists[l] = append(lists[l], ip)
		}
	}
	return lists[0], lists[1], nil
}

// pointRecord is the fixed size part of a point on disk.
type pointRecord struct {
	X, Y        float32
	Ix, Iy      int32
	Orientation float32
	Scale       float32
	Interest    float32
	Polarity    uint8
	Octave      uint32
	ScaleLevel  uint32
	DescLen     uint64
}

func writeInterestPoint(w io.Writer, ip *InterestPoint) error {
	var polarity uint8
	if ip.Polarity {
		polarity = 1
	}
	rec := pointRecord{
		X: ip.X, Y: ip.Y,
		Ix: ip.Ix, Iy: ip.Iy,
		Orientation: ip.Orientation,
		Scale:       ip.Scale,
		Interest:    ip.Interest,
		Polarity:    polarity,
		Octave:      ip.Octave,
		ScaleLevel:  ip.ScaleLevel,
		DescLen:     uint64(len(ip.Descriptor)),
	}
	if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
		return err
	}
	if len(ip.Descriptor) == 0 {
		return nil
	}
	return binary.Write(w, binary.LittleEndian, ip.Descriptor)
}

func readInterestPoint(r io.Reader) (InterestPoint, error) {
	var rec pointRecord
	if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
		return InterestPoint{}, err
	}
	if rec.DescLen > maxDescriptorLength {
		return InterestPoint{}, errors.Errorf("descriptor length %d exceeds %d", rec.DescLen, maxDescriptorLength)
	}
	ip := InterestPoint{
		X: rec.X, Y: rec.Y,
		Ix: rec.Ix, Iy: rec.Iy,
		Orientation: rec.Orientation,
		Scale:       rec.Scale,
		Interest:    rec.Interest,
		Polarity:    rec.Polarity != 0,
		Octave:      rec.Octave,
		ScaleLevel:  rec.ScaleLevel,
	}
	if rec.DescLen > 0 {
		ip.Descriptor = make([]float32, rec.DescLen)
		if err := binary.Read(r, binary.LittleEndian, ip.Descriptor); err != nil {
			return InterestPoint{}, err
		}
	}
	return ip, nil
}
