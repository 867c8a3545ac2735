package export

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/wkb"
)

// DefaultBatchSize is the number of rows buffered per record batch
const DefaultBatchSize = 10000

// ParquetSchema is one row per point or polygon. Polygons report their
// centroid in lat/lng.
var ParquetSchema = arrow.NewSchema([]arrow.Field{
	{Name: "group_id", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "group_name", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "color", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "kind", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "lng", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "geom_wkt", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// ParquetWriter writes group features to a zstd-compressed Parquet file
type ParquetWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	encoder   *wkb.Encoder
	batchSize int
	count     int
	total     int
}

// NewParquetWriter creates the file and its writer
func NewParquetWriter(path string, batchSize int) (*ParquetWriter, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(ParquetSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &ParquetWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, ParquetSchema),
		encoder:   wkb.NewEncoder(256),
		batchSize: batchSize,
	}, nil
}

// WriteGroup appends every point and polygon of a group
func (w *ParquetWriter) WriteGroup(g kml.Group) error {
	for _, p := range g.Points {
		pt := orb.Point{p.Lng, p.Lat}
		if err := w.write(g, KindPoint, p.Name, p.Lat, p.Lng, wkt.MarshalString(pt), w.encoder.EncodePoint(p.Lng, p.Lat)); err != nil {
			return err
		}
	}
	for _, poly := range g.Polygons {
		ring := toRing(poly.Coordinates)
		geom := orb.Polygon{ring}
		c, _ := planar.CentroidArea(geom)
		if err := w.write(g, KindPolygon, poly.Name, c.Lat(), c.Lon(), wkt.MarshalString(geom), w.encoder.EncodeRing(poly.Coordinates)); err != nil {
			return err
		}
	}
	return nil
}

func (w *ParquetWriter) write(g kml.Group, kind, name string, lat, lng float64, geomWKT string, geomWKB []byte) error {
	w.builder.Field(0).(*array.StringBuilder).Append(g.ID)
	w.builder.Field(1).(*array.StringBuilder).Append(g.Name)
	w.builder.Field(2).(*array.StringBuilder).Append(g.Color)
	w.builder.Field(3).(*array.StringBuilder).Append(kind)
	w.builder.Field(4).(*array.StringBuilder).Append(name)
	w.builder.Field(5).(*array.Float64Builder).Append(lat)
	w.builder.Field(6).(*array.Float64Builder).Append(lng)
	w.builder.Field(7).(*array.StringBuilder).Append(geomWKT)
	w.builder.Field(8).(*array.BinaryBuilder).Append(geomWKB)

	w.count++
	w.total++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *ParquetWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Count returns the number of rows written
func (w *ParquetWriter) Count() int {
	return w.total
}

// Close flushes buffered rows and closes the file
func (w *ParquetWriter) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	w.builder.Release()
	if err := w.writer.Close(); err != nil {
		return err
	}
	// the parquet writer may already have closed the sink
	w.file.Close()
	return nil
}

// Parquet writes all groups to path and returns the row count
func Parquet(path string, groups []kml.Group) (int, error) {
	w, err := NewParquetWriter(path, DefaultBatchSize)
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		if err := w.WriteGroup(g); err != nil {
			w.Close()
			return 0, fmt.Errorf("failed to write group %s: %w", g.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet file: %w", err)
	}
	return w.Count(), nil
}
