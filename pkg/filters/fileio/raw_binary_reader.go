// Package fileio holds the filters that move data between the data store and
// files or object storage.
package fileio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/mmap"
)

// Group is the filter group of every filter in this package.
const Group = "IO"

const (
	codeEmptyInputFile   = -387
	codeMissingInputFile = -388
	codeBadComponents    = -391
	codeFileNotOpen      = -1000
	codeFileTooSmall     = -1010
	warnFileTooBig       = -1020
	codeReadEOF          = -1030
)

// Endian is the byte order of a raw file.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

func (e Endian) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (e Endian) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Endian) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "little", "le", "0":
		*e = LittleEndian
	case "big", "be", "1":
		*e = BigEndian
	default:
		return errors.Newf(errors.ErrorTypeInvalidParameter, "unknown byte order %q", string(b))
	}
	return nil
}

type rawBinaryReaderParams struct {
	InputFile                 string                  `mapstructure:"InputFile" json:"InputFile"`
	ScalarType                datamodel.ElementType   `mapstructure:"ScalarType" json:"ScalarType"`
	NumberOfComponents        int                     `mapstructure:"NumberOfComponents" json:"NumberOfComponents"`
	Endian                    Endian                  `mapstructure:"Endian" json:"Endian"`
	SkipHeaderBytes           int64                   `mapstructure:"SkipHeaderBytes" json:"SkipHeaderBytes"`
	CreatedAttributeArrayPath datamodel.DataArrayPath `mapstructure:"CreatedAttributeArrayPath" json:"CreatedAttributeArrayPath"`
}

// RawBinaryReader fills a new array from a headerless binary file. The array
// takes the tuple count of its matrix; a file holding more data than needed
// is read partially with a warning.
type RawBinaryReader struct {
	filter.Base
	params rawBinaryReaderParams
	arr    datamodel.DataArray
}

func NewRawBinaryReader() filter.Filter {
	f := &RawBinaryReader{params: rawBinaryReaderParams{
		ScalarType:         datamodel.ElementFloat32,
		NumberOfComponents: 1,
	}}
	f.Init(filter.Info{
		ClassName:   "RawBinaryReader",
		HumanLabel:  "Raw Binary Importer",
		Group:       Group,
		SubGroup:    "Input",
		Description: "Reads a headerless binary file into an attribute array",
	})
	return f
}

func (f *RawBinaryReader) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "InputFile", Label: "Input File", Kind: filter.KindInputFile, Required: true},
		{Key: "ScalarType", Label: "Scalar Type", Kind: filter.KindElementType, Default: "float32"},
		{Key: "NumberOfComponents", Label: "Number of Components", Kind: filter.KindInt, Default: 1},
		{Key: "Endian", Label: "Endian", Kind: filter.KindChoice, Choices: []string{"little", "big"}, Default: "little"},
		{Key: "SkipHeaderBytes", Label: "Skip Header Bytes", Kind: filter.KindInt, Default: 0},
		{Key: "CreatedAttributeArrayPath", Label: "Output Attribute Array", Kind: filter.KindArrayPath, Required: true},
	}
}

func (f *RawBinaryReader) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *RawBinaryReader) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *RawBinaryReader) dataCheck(dca *datamodel.DataContainerArray) {
	f.arr = nil
	p := f.params

	var size int64
	switch fi, err := os.Stat(p.InputFile); {
	case p.InputFile == "":
		f.SetErrorCondition(codeEmptyInputFile, "The input file must be set")
		return
	case err != nil:
		f.SetErrorCondition(codeMissingInputFile, fmt.Sprintf("The input file %s does not exist", p.InputFile))
		return
	case fi.IsDir():
		f.SetErrorCondition(codeMissingInputFile, fmt.Sprintf("The input file %s is a directory", p.InputFile))
		return
	default:
		size = fi.Size()
	}
	if p.NumberOfComponents < 1 {
		f.SetErrorCondition(codeBadComponents, "The number of components must be positive")
		return
	}
	if p.SkipHeaderBytes < 0 {
		f.SetErrorCondition(errors.CodeInvalidParameter, "The number of header bytes to skip must not be negative")
		return
	}
	if p.ScalarType == datamodel.ElementUnknown {
		f.SetErrorCondition(errors.CodeInvalidParameter, "A scalar type must be selected")
		return
	}
	if err := p.CreatedAttributeArrayPath.Validate(); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	am, err := dca.AttributeMatrix(p.CreatedAttributeArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	arr, err := am.CreateDataArray(p.ScalarType, p.CreatedAttributeArrayPath.DataArray, p.NumberOfComponents, 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}

	needed := arr.Bytes()
	available := size - p.SkipHeaderBytes
	switch {
	case available < needed:
		f.SetErrorCondition(codeFileTooSmall, fmt.Sprintf(
			"The file size is %d but the number of bytes needed to fill the array is %d. "+
				"Adjust the input parameters to match the size of the file or select a different file", size, needed))
		return
	case available > needed:
		f.SetWarningCondition(warnFileTooBig, fmt.Sprintf(
			"The file size is %d but only %d bytes are needed to fill the array; the rest of the file is ignored", size, needed))
	}
	f.arr = arr
}

func (f *RawBinaryReader) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *RawBinaryReader) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 || filter.Cancelled(ctx) {
		return
	}

	file, err := mmap.Open(f.params.InputFile)
	if err != nil {
		f.SetErrorCondition(codeFileNotOpen, fmt.Sprintf("Unable to open %s: %v", f.params.InputFile, err))
		return
	}
	defer file.Close()

	data, err := file.Range(f.params.SkipHeaderBytes, f.arr.Bytes())
	if err != nil {
		f.SetErrorCondition(codeReadEOF, err.Error())
		return
	}
	if err := datamodel.ReadBinary(bytes.NewReader(data), f.arr, f.params.Endian.order()); err != nil {
		f.SetErrorCondition(codeReadEOF, err.Error())
		return
	}
	f.NotifyStatus("Complete")
}
