package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = iota
	// PCDBinary binary format for pcd.
	PCDBinary
	// PCDCompressed binary format for pcd.
	PCDCompressed
)

// String returns the DATA token of the format.
func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

// ParsePCDType parses a DATA token.
func ParsePCDType(s string) (PCDType, error) {
	switch s {
	case "ascii":
		return PCDAscii, nil
	case "binary":
		return PCDBinary, nil
	case "binary_compressed":
		return PCDCompressed, nil
	default:
		return 0, errors.Errorf("unsupported pcd data type %q", s)
	}
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

const pcdNumFields = 3

// Limits on the grid of a pcd file, checked before anything is allocated.
const (
	maxPCDDimension = 1 << 16
	maxPCDPoints    = 1 << 24
)

type pcdHeader struct {
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if strings.Join(tokens, " ") != "x y z" {
			return errors.Errorf("unsupported pcd fields %s, expected x y z", value)
		}
	case "SIZE":
		if len(tokens) != pcdNumFields {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			if header.size[i] != 4 && header.size[i] != 8 {
				return errors.Errorf("unsupported SIZE %d, expected 4 or 8", header.size[i])
			}
		}
	case "TYPE":
		if len(tokens) != pcdNumFields {
			return errors.New("unexpected number of fields in TYPE line")
		}
		for _, token := range tokens {
			if token != "F" {
				return errors.Errorf("unsupported TYPE %s, expected F", token)
			}
		}
	case "COUNT":
		if len(tokens) != pcdNumFields {
			return errors.New("unexpected number of fields in COUNT line")
		}
		for _, token := range tokens {
			if token != "1" {
				return errors.Errorf("unsupported COUNT %s, expected 1", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
		if header.width == 0 || header.width > maxPCDDimension {
			return errors.Errorf("WIDTH %d must be in [1, %d]", header.width, maxPCDDimension)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
		if header.height < 2 {
			return errors.Errorf("HEIGHT %d is not an organized cloud", header.height)
		}
		if header.height > maxPCDDimension {
			return errors.Errorf("HEIGHT %d exceeds %d", header.height, maxPCDDimension)
		}
		if hi, grid := bits.Mul64(header.width, header.height); hi != 0 || grid > maxPCDPoints {
			return errors.Errorf("WIDTH*HEIGHT of %dx%d exceeds %d points", header.width, header.height, maxPCDPoints)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err = strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		header.data, err = ParsePCDType(value)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadXYZMapPCD reads an organized x y z pcd into a map. WIDTH and HEIGHT give the grid and
// points are in row-major order. NaN coordinates mark pixels without a return.
func ReadXYZMapPCD(inRaw io.Reader) (*XYZMap, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	m := NewXYZMap(int(header.width), int(header.height))
	var err error
	switch header.data {
	case PCDAscii:
		err = readPCDAscii(in, header, m)
	case PCDBinary:
		err = readPCDBinary(in, header, m)
	case PCDCompressed:
		err = readPCDCompressed(in, header, m)
	default:
		err = errors.Errorf("unsupported pcd data type %v", header.data)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func readPCDAscii(in *bufio.Reader, header pcdHeader, m *XYZMap) error {
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != pcdNumFields {
			return errors.Errorf("unexpected number of fields in point %d", i)
		}
		var point [pcdNumFields]float64
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		m.data[i] = r3.Vector{X: point[0], Y: point[1], Z: point[2]}
	}
	return nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader, m *XYZMap) error {
	buf := make([]byte, 8)
	for i := 0; i < int(header.points); i++ {
		var point [pcdNumFields]float64
		for j := 0; j < pcdNumFields; j++ {
			b := buf[:header.size[j]]
			if _, err := io.ReadFull(in, b); err != nil {
				return errors.Wrapf(err, "reading point %d", i)
			}
			point[j] = pcdFloat(b)
		}
		m.data[i] = r3.Vector{X: point[0], Y: point[1], Z: point[2]}
	}
	return nil
}

// readPCDCompressed reads LZF compressed data. The uncompressed block stores each field for all
// points before moving on to the next field.
func readPCDCompressed(in *bufio.Reader, header pcdHeader, m *XYZMap) error {
	var sizes [2]uint32
	if err := binary.Read(in, binary.LittleEndian, &sizes); err != nil {
		return errors.Wrap(err, "reading compressed data sizes")
	}
	compressedSize, rawSize := sizes[0], sizes[1]

	n := int(header.points)
	var pointSize uint64
	for _, size := range header.size {
		pointSize += size
	}
	if uint64(rawSize) != uint64(n)*pointSize {
		return errors.Errorf("uncompressed size %d does not match %d points of %d bytes", rawSize, n, pointSize)
	}
	if rawSize == 0 {
		return nil
	}

	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return errors.Wrap(err, "reading compressed data")
	}
	raw := make([]byte, rawSize)
	got, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return errors.Wrap(err, "decompressing pcd data")
	}
	if got != len(raw) {
		return errors.Errorf("decompressed %d bytes, expected %d", got, len(raw))
	}

	offset := 0
	for j := 0; j < pcdNumFields; j++ {
		size := int(header.size[j])
		for i := 0; i < n; i++ {
			val := pcdFloat(raw[offset+i*size : offset+(i+1)*size])
			switch j {
			case 0:
				m.data[i].X = val
			case 1:
				m.data[i].Y = val
			default:
				m.data[i].Z = val
			}
		}
		offset += n * size
	}
	return nil
}

func pcdFloat(b []byte) float64 {
	if len(b) == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// WriteXYZMapPCD writes the map as an organized x y z pcd with 4 byte floats. Invalid pixels are
// written as NaN.
func WriteXYZMapPCD(m *XYZMap, out io.Writer, outputType PCDType) error {
	if outputType != PCDAscii && outputType != PCDBinary && outputType != PCDCompressed {
		return errors.Errorf("writing %s pcd not yet implemented", outputType)
	}
	_, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		m.width,
		m.height,
		m.width*m.height,
		outputType,
	)
	if err != nil {
		return err
	}
	if outputType == PCDCompressed {
		return writePCDCompressed(m, out)
	}

	buf := make([]byte, 12)
	for _, p := range m.data {
		v := pcdValues(p)
		switch outputType {
		case PCDBinary:
			for j, c := range v {
				binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(c))
			}
			_, err = out.Write(buf)
		default:
			_, err = fmt.Fprintf(out, "%s %s %s\n", formatFloat32(v[0]), formatFloat32(v[1]), formatFloat32(v[2]))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writePCDCompressed(m *XYZMap, out io.Writer) error {
	n := len(m.data)
	raw := make([]byte, 4*pcdNumFields*n)
	for i, p := range m.data {
		for j, c := range pcdValues(p) {
			binary.LittleEndian.PutUint32(raw[4*(j*n+i):], math.Float32bits(c))
		}
	}

	var compressed []byte
	if n > 0 {
		// lzf grows incompressible input by at most one byte in 32
		compressed = make([]byte, len(raw)+len(raw)/16+64)
		size, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "compressing pcd data")
		}
		compressed = compressed[:size]
	}
	sizes := [2]uint32{uint32(len(compressed)), uint32(len(raw))}
	if err := binary.Write(out, binary.LittleEndian, sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}

func pcdValues(p r3.Vector) [pcdNumFields]float32 {
	if IsInvalidPoint(p) {
		nan := float32(math.NaN())
		return [pcdNumFields]float32{nan, nan, nan}
	}
	return [pcdNumFields]float32{float32(p.X), float32(p.Y), float32(p.Z)}
}

func formatFloat32(f float32) string {
	if math.IsNaN(float64(f)) {
		return "nan"
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// ParseXYZMapPCDFile reads a map from a pcd file, gunzipping it when the name ends in .gz.
func ParseXYZMapPCDFile(fn string) (m *XYZMap, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var in io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		gin, gerr := gzip.NewReader(f)
		if gerr != nil {
			return nil, gerr
		}
		defer func() {
			err = multierr.Combine(err, gin.Close())
		}()
		in = gin
	}
	return ReadXYZMapPCD(in)
}

// WriteXYZMapPCDFile writes the map to a pcd file, gzipping it when the name ends in .gz.
func WriteXYZMapPCDFile(m *XYZMap, fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}
	bout := bufio.NewWriter(out)
	if err := WriteXYZMapPCD(m, bout, outputType); err != nil {
		return err
	}
	if err := bout.Flush(); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	return f.Sync()
}
