// Package srzip reads and writes zip session containers. A container holds
// a version file, a YAML metadata document describing the device and its
// channels, raw logic chunks ("logic-1-N") and little-endian float32 analog
// chunks ("analog-1-C-N", C being the device channel index).
package srzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/sigcap/internal/packet"
)

const (
	// FormatVersion is written to the "version" member.
	FormatVersion = 2

	versionName  = "version"
	metadataName = "metadata"
)

// zipMagic starts every zip local file header.
var zipMagic = []byte("PK\x03\x04")

var (
	// ErrNotContainer is returned for files that are not zip archives or
	// lack the metadata member.
	ErrNotContainer = errors.New("not a session container")
	// ErrUnsupportedVersion is returned for containers of a newer version.
	ErrUnsupportedVersion = errors.New("unsupported session container version")
)

// Channel describes one device channel.
type Channel struct {
	Index   int    `yaml:"index"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
}

// Metadata is the "metadata" member.
type Metadata struct {
	Session    string    `yaml:"session"`
	Created    time.Time `yaml:"created"`
	Driver     string    `yaml:"driver"`
	Vendor     string    `yaml:"vendor,omitempty"`
	Model      string    `yaml:"model,omitempty"`
	Version    string    `yaml:"version,omitempty"`
	Conn       string    `yaml:"conn,omitempty"`
	SampleRate int64     `yaml:"samplerate"`
	UnitSize   int       `yaml:"unitsize"`
	Channels   []Channel `yaml:"channels"`
}

// IsContainer reports whether head starts like a zip archive.
func IsContainer(head []byte) bool {
	return bytes.HasPrefix(head, zipMagic)
}

// Writer builds a container. Chunks are written as they arrive; version and
// metadata are written by Close, once the sample rate is final.
type Writer struct {
	zw     *zip.Writer
	closer io.Closer
	meta   Metadata

	logicChunks  int
	analogChunks map[int]int
}

// Create opens path for writing a container.
func Create(path string, meta Metadata) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f, meta)
	w.closer = f
	return w, nil
}

// NewWriter writes a container to w.
func NewWriter(w io.Writer, meta Metadata) *Writer {
	return &Writer{zw: zip.NewWriter(w), meta: meta, analogChunks: map[int]int{}}
}

// SetSampleRate records the capture sample rate.
func (w *Writer) SetSampleRate(rate int64) { w.meta.SampleRate = rate }

// WriteLogic stores one chunk of packed logic samples.
func (w *Writer) WriteLogic(unitSize int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if w.meta.UnitSize == 0 {
		w.meta.UnitSize = unitSize
	} else if unitSize != w.meta.UnitSize {
		return fmt.Errorf("logic unit size changed from %d to %d", w.meta.UnitSize, unitSize)
	}
	w.logicChunks++
	return w.writeMember("logic-1-"+strconv.Itoa(w.logicChunks), data)
}

// WriteAnalog stores one chunk of samples of channel index.
func (w *Writer) WriteAnalog(index int, data []float32) error {
	if len(data) == 0 {
		return nil
	}
	w.analogChunks[index]++
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return w.writeMember(fmt.Sprintf("analog-1-%d-%d", index, w.analogChunks[index]), buf)
}

func (w *Writer) writeMember(name string, data []byte) error {
	f, err := w.zw.Create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Close writes the version and metadata members and finishes the archive.
func (w *Writer) Close() error {
	err := w.writeMember(versionName, []byte(strconv.Itoa(FormatVersion)+"\n"))
	if err == nil {
		var meta []byte
		meta, err = yaml.Marshal(w.meta)
		if err == nil {
			err = w.writeMember(metadataName, meta)
		}
	}
	if cerr := w.zw.Close(); err == nil {
		err = cerr
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// chunk is one data member of an open container.
type chunk struct {
	file    *zip.File
	analog  bool
	channel int
	seq     int
}

// Archive is an open container.
type Archive struct {
	Meta   Metadata
	rc     *zip.ReadCloser
	chunks []chunk
}

// Open reads the container at path. Files that are not zip archives, or
// have no metadata member, yield ErrNotContainer.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", ErrNotContainer, path)
		}
		return nil, err
	}
	a := &Archive{rc: rc}
	if err := a.load(); err != nil {
		rc.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) load() error {
	var haveMeta bool
	for _, f := range a.rc.File {
		switch {
		case f.Name == versionName:
			b, err := readMember(f)
			if err != nil {
				return err
			}
			v, err := strconv.Atoi(strings.TrimSpace(string(b)))
			if err != nil || v > FormatVersion {
				return fmt.Errorf("%w: %q", ErrUnsupportedVersion, strings.TrimSpace(string(b)))
			}
		case f.Name == metadataName:
			b, err := readMember(f)
			if err != nil {
				return err
			}
			if err := yaml.Unmarshal(b, &a.Meta); err != nil {
				return fmt.Errorf("%w: bad metadata: %v", ErrNotContainer, err)
			}
			haveMeta = true
		case strings.HasPrefix(f.Name, "logic-1-"):
			seq, err := strconv.Atoi(strings.TrimPrefix(f.Name, "logic-1-"))
			if err != nil {
				return fmt.Errorf("bad member name %q", f.Name)
			}
			a.chunks = append(a.chunks, chunk{file: f, seq: seq})
		case strings.HasPrefix(f.Name, "analog-1-"):
			var ch, seq int
			if _, err := fmt.Sscanf(f.Name, "analog-1-%d-%d", &ch, &seq); err != nil {
				return fmt.Errorf("bad member name %q", f.Name)
			}
			a.chunks = append(a.chunks, chunk{file: f, analog: true, channel: ch, seq: seq})
		}
	}
	if !haveMeta {
		return fmt.Errorf("%w: no metadata", ErrNotContainer)
	}
	// Chunks of the same sequence number were captured together; logic
	// comes first, then analog channels in index order.
	sort.SliceStable(a.chunks, func(i, j int) bool {
		ci, cj := a.chunks[i], a.chunks[j]
		if ci.seq != cj.seq {
			return ci.seq < cj.seq
		}
		if ci.analog != cj.analog {
			return !ci.analog
		}
		return ci.channel < cj.channel
	})
	return nil
}

func readMember(f *zip.File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Packets replays the container as a sample rate meta packet followed by
// its logic and analog chunks.
func (a *Archive) Packets(fn func(*packet.Packet) error) error {
	if a.Meta.SampleRate > 0 {
		if err := fn(packet.NewSampleRate(a.Meta.SampleRate)); err != nil {
			return err
		}
	}
	for _, c := range a.chunks {
		data, err := readMember(c.file)
		if err != nil {
			return fmt.Errorf("%s: %w", c.file.Name, err)
		}
		var p *packet.Packet
		if c.analog {
			if len(data)%4 != 0 {
				return fmt.Errorf("%s: length %d is not a multiple of 4", c.file.Name, len(data))
			}
			samples := make([]float32, len(data)/4)
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
			}
			p = packet.NewAnalog(c.channel, samples, "", "")
		} else {
			if a.Meta.UnitSize <= 0 {
				return fmt.Errorf("%s: metadata has no unit size", c.file.Name)
			}
			p = packet.NewLogic(a.Meta.UnitSize, data)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the archive.
func (a *Archive) Close() error { return a.rc.Close() }
