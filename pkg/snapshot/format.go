// Package snapshot persists a DataContainerArray as a single stream.
//
// # Layout
//
//	"VXFS" | version (1 byte) | algorithm length (1 byte) | algorithm name
//	compressed body:
//	    manifest length (uint32 LE) | manifest JSON
//	    array payloads, little-endian, in manifest order
//
// The manifest alone describes the full structure, so a reader can rebuild
// containers, matrices and zero-filled arrays without touching the payloads.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/voxelflow/pkg/compression"
	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

const (
	magic = "VXFS"
	// FormatVersion is the layout version written by this package.
	FormatVersion = 1
	// maxManifestBytes bounds the manifest allocation for corrupt input.
	maxManifestBytes = 64 << 20
)

var order = binary.LittleEndian

// Manifest describes the stored structure.
type Manifest struct {
	Version     int              `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	Compression string           `json:"compression"`
	Containers  []ContainerEntry `json:"containers"`
}

type ContainerEntry struct {
	Name     string                   `json:"name"`
	Geometry *datamodel.ImageGeometry `json:"geometry,omitempty"`
	Matrices []MatrixEntry            `json:"matrices"`
}

type MatrixEntry struct {
	Name            string               `json:"name"`
	Type            datamodel.MatrixType `json:"type"`
	TupleDimensions []int                `json:"tuple_dimensions"`
	Arrays          []ArrayEntry         `json:"arrays"`
}

type ArrayEntry struct {
	Name       string                `json:"name"`
	Type       datamodel.ElementType `json:"type"`
	Components int                   `json:"components"`
	Tuples     int                   `json:"tuples"`
	Bytes      int64                 `json:"bytes"`
}

// TotalBytes sums the payload sizes.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, c := range m.Containers {
		for _, am := range c.Matrices {
			for _, a := range am.Arrays {
				n += a.Bytes
			}
		}
	}
	return n
}

// ContainerNames lists the stored containers in order.
func (m *Manifest) ContainerNames() []string {
	out := make([]string, len(m.Containers))
	for i, c := range m.Containers {
		out[i] = c.Name
	}
	return out
}

// Options controls Write.
type Options struct {
	Compression compression.Algorithm
	Level       compression.Level
	// Containers restricts the snapshot to the named containers. Empty
	// means all.
	Containers []string
}

// BuildManifest describes the selected containers of dca.
func BuildManifest(dca *datamodel.DataContainerArray, containers []string) (*Manifest, error) {
	names := containers
	if len(names) == 0 {
		names = dca.DataContainerNames()
	}
	m := &Manifest{Version: FormatVersion, CreatedAt: time.Now().UTC()}
	for _, name := range names {
		dc, err := dca.DataContainer(name)
		if err != nil {
			return nil, err
		}
		ce := ContainerEntry{Name: name}
		if g := dc.Geometry(); g != nil {
			geom := *g
			ce.Geometry = &geom
		}
		for _, amName := range dc.AttributeMatrixNames() {
			am, err := dc.AttributeMatrix(amName)
			if err != nil {
				return nil, err
			}
			me := MatrixEntry{Name: amName, Type: am.Type(), TupleDimensions: am.TupleDimensions()}
			for _, arr := range am.Arrays() {
				me.Arrays = append(me.Arrays, ArrayEntry{
					Name:       arr.Name(),
					Type:       arr.Type(),
					Components: arr.NumComponents(),
					Tuples:     arr.NumTuples(),
					Bytes:      arr.Bytes(),
				})
			}
			ce.Matrices = append(ce.Matrices, me)
		}
		m.Containers = append(m.Containers, ce)
	}
	return m, nil
}

// Write encodes dca to w and returns the manifest it wrote.
func Write(w io.Writer, dca *datamodel.DataContainerArray, opts Options) (*Manifest, error) {
	alg := opts.Compression
	if alg == "" {
		alg = compression.None
	}
	if opts.Level == 0 {
		opts.Level = compression.Default
	}
	m, err := BuildManifest(dca, opts.Containers)
	if err != nil {
		return nil, err
	}
	m.Compression = string(alg)

	if err := writeHeader(w, alg); err != nil {
		return nil, err
	}
	cw, err := compression.NewWriter(w, alg, opts.Level)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(cw, 256<<10)

	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode snapshot manifest")
	}
	if err := binary.Write(bw, order, uint32(len(manifest))); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "write snapshot manifest")
	}
	if _, err := bw.Write(manifest); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "write snapshot manifest")
	}

	for _, ce := range m.Containers {
		for _, me := range ce.Matrices {
			for _, ae := range me.Arrays {
				arr, err := dca.DataArray(datamodel.DataArrayPath{
					DataContainer: ce.Name, AttributeMatrix: me.Name, DataArray: ae.Name,
				})
				if err != nil {
					return nil, err
				}
				if err := datamodel.WriteBinary(bw, arr, order); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "flush snapshot")
	}
	if err := cw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "finish snapshot stream")
	}
	return m, nil
}

func writeHeader(w io.Writer, alg compression.Algorithm) error {
	hdr := make([]byte, 0, len(magic)+2+len(alg))
	hdr = append(hdr, magic...)
	hdr = append(hdr, FormatVersion, byte(len(alg)))
	hdr = append(hdr, alg...)
	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write snapshot header")
	}
	return nil
}

func readHeader(r io.Reader) (compression.Algorithm, error) {
	hdr := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "read snapshot header").WithCode(errors.CodeFileFailed)
	}
	if string(hdr[:len(magic)]) != magic {
		return "", errors.New(errors.ErrorTypeFile, "not a snapshot: bad magic")
	}
	if v := hdr[len(magic)]; v != FormatVersion {
		return "", errors.Newf(errors.ErrorTypeFile, "unsupported snapshot version %d", v)
	}
	name := make([]byte, hdr[len(magic)+1])
	if _, err := io.ReadFull(r, name); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "read snapshot header")
	}
	return compression.ParseAlgorithm(string(name))
}

// decoder is an open snapshot body positioned after the manifest.
type decoder struct {
	body     io.ReadCloser
	br       *bufio.Reader
	manifest *Manifest
}

func openBody(r io.Reader) (*decoder, error) {
	alg, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	body, err := compression.NewReader(r, alg)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(body, 256<<10)

	var n uint32
	if err := binary.Read(br, order, &n); err != nil {
		body.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "read snapshot manifest")
	}
	if n > maxManifestBytes {
		body.Close()
		return nil, errors.Newf(errors.ErrorTypeFile, "snapshot manifest of %d bytes exceeds limit", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(br, raw); err != nil {
		body.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "read snapshot manifest")
	}
	m := &Manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		body.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "decode snapshot manifest")
	}
	return &decoder{body: body, br: br, manifest: m}, nil
}

// ReadManifest reads only the header and manifest.
func ReadManifest(r io.Reader) (*Manifest, error) {
	d, err := openBody(r)
	if err != nil {
		return nil, err
	}
	d.body.Close()
	return d.manifest, nil
}

// Read decodes a snapshot. When containers is non-empty only those are
// materialized; the payloads of the others are skipped.
func Read(r io.Reader, containers []string) (*datamodel.DataContainerArray, *Manifest, error) {
	d, err := openBody(r)
	if err != nil {
		return nil, nil, err
	}
	defer d.body.Close()

	want := selection(containers)
	for _, name := range containers {
		if !hasContainer(d.manifest, name) {
			return nil, nil, errors.Newf(errors.ErrorTypeMissingDataContainer, "snapshot has no data container %q", name)
		}
	}

	dca := datamodel.NewDataContainerArray()
	for _, ce := range d.manifest.Containers {
		keep := want == nil || want[ce.Name]
		for _, me := range ce.Matrices {
			for _, ae := range me.Arrays {
				if !keep {
					if _, err := io.CopyN(io.Discard, d.br, ae.Bytes); err != nil {
						return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "skip snapshot payload")
					}
				}
			}
		}
		if !keep {
			continue
		}
		if err := buildContainer(dca, ce, func(arr datamodel.DataArray) error {
			return datamodel.ReadBinary(d.br, arr, order)
		}); err != nil {
			return nil, nil, err
		}
	}
	return dca, d.manifest, nil
}

// Skeleton rebuilds the selected structure with zero-filled arrays.
func (m *Manifest) Skeleton(containers []string) (*datamodel.DataContainerArray, error) {
	want := selection(containers)
	for _, name := range containers {
		if !hasContainer(m, name) {
			return nil, errors.Newf(errors.ErrorTypeMissingDataContainer, "snapshot has no data container %q", name)
		}
	}
	dca := datamodel.NewDataContainerArray()
	for _, ce := range m.Containers {
		if want != nil && !want[ce.Name] {
			continue
		}
		if err := buildContainer(dca, ce, nil); err != nil {
			return nil, err
		}
	}
	return dca, nil
}

func buildContainer(dca *datamodel.DataContainerArray, ce ContainerEntry, fill func(datamodel.DataArray) error) error {
	dc, err := dca.CreateDataContainer(ce.Name)
	if err != nil {
		return err
	}
	if ce.Geometry != nil {
		geom := *ce.Geometry
		dc.SetGeometry(&geom)
	}
	for _, me := range ce.Matrices {
		am, err := dc.CreateAttributeMatrix(me.Name, me.TupleDimensions, me.Type)
		if err != nil {
			return err
		}
		for _, ae := range me.Arrays {
			if ae.Tuples != am.NumTuples() {
				return errors.Newf(errors.ErrorTypeFile,
					"snapshot array %q has %d tuples but matrix %q has %d", ae.Name, ae.Tuples, me.Name, am.NumTuples()).
					WithCode(errors.CodeTupleValidation)
			}
			arr, err := am.CreateDataArray(ae.Type, ae.Name, ae.Components, 0)
			if err != nil {
				return err
			}
			if fill != nil {
				if err := fill(arr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func selection(containers []string) map[string]bool {
	if len(containers) == 0 {
		return nil
	}
	want := make(map[string]bool, len(containers))
	for _, c := range containers {
		want[c] = true
	}
	return want
}

func hasContainer(m *Manifest, name string) bool {
	for _, c := range m.Containers {
		if c.Name == name {
			return true
		}
	}
	return false
}
