// Package loader imports GeoParquet layers into the store in the layout the
// pipeline reads: an id column, the_geom and the attributes of the layer kind.
package loader

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// Record is one feature of a layer file, the geometry is WKT.
type Record struct {
	ID          *int64  `parquet:"name=id, type=INT64, repetitiontype=OPTIONAL"`
	Geom        *string `parquet:"name=geom, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Type        *string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	ZIndex      *int32  `parquet:"name=zindex, type=INT32, repetitiontype=OPTIONAL"`
	Crossing    *string `parquet:"name=crossing, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	Usage       *string `parquet:"name=usage, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	HeightClass *string `parquet:"name=height_class, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	LCZPrimary  *int32  `parquet:"name=lcz_primary, type=INT32, repetitiontype=OPTIONAL"`
}

type attribute struct {
	column database.Column
	value  func(Record) any
}

type layout struct {
	id         database.Column
	attributes []attribute
}

var (
	typeAttr     = attribute{database.Column{Name: "type", Type: database.Text}, func(r Record) any { return str(r.Type) }}
	zindexAttr   = attribute{database.Column{Name: "zindex", Type: database.Integer}, func(r Record) any { return i32(r.ZIndex) }}
	crossingAttr = attribute{database.Column{Name: "crossing", Type: database.Text}, func(r Record) any { return str(r.Crossing) }}
	usageAttr    = attribute{database.Column{Name: "usage", Type: database.Text}, func(r Record) any { return str(r.Usage) }}
	heightAttr   = attribute{database.Column{Name: "height_class", Type: database.Text}, func(r Record) any { return str(r.HeightClass) }}
	lczAttr      = attribute{database.Column{Name: "lcz_primary", Type: database.Integer}, func(r Record) any { return i32(r.LCZPrimary) }}
)

func integerID(name string) database.Column {
	return database.Column{Name: name, Type: database.Integer}
}

var layouts = map[string]layout{
	"zone":          {database.Column{Name: "id_zone", Type: database.Text}, nil},
	"road":          {integerID("id_road"), []attribute{typeAttr, zindexAttr, crossingAttr}},
	"rail":          {integerID("id_rail"), []attribute{usageAttr, zindexAttr, crossingAttr}},
	"vegetation":    {integerID("id_veget"), []attribute{typeAttr, heightAttr}},
	"water":         {integerID("id_water"), []attribute{typeAttr, zindexAttr}},
	"sea_land_mask": {integerID("id_sea_land"), []attribute{typeAttr}},
	"urban_areas":   {integerID("id_urban"), []attribute{typeAttr}},
	"building":      {integerID("id_build"), []attribute{typeAttr, zindexAttr}},
	"lcz":           {integerID("id_lcz"), []attribute{lczAttr}},
}

// Kinds returns the supported layer kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(layouts))
	for k := range layouts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Columns returns the table layout of kind.
func Columns(kind string) ([]database.Column, error) {
	l, ok := layouts[kind]
	if !ok {
		return nil, errors.Precondition(kind, "unknown layer kind, expected one of %v", Kinds())
	}

	columns := []database.Column{l.id, {Name: "the_geom", Type: database.Geometry}}
	for _, a := range l.attributes {
		columns = append(columns, a.column)
	}
	return columns, nil
}

// ReadFile reads every record of the parquet file at path.
func ReadFile(path string) ([]Record, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Record), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	records := make([]Record, int(pr.GetNumRows()))
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	return records, nil
}

// Rows converts records into rows for Columns(kind). Records without a valid
// geometry are skipped, records without id are numbered after their position.
func Rows(kind string, records []Record) ([][]any, int, error) {
	l, ok := layouts[kind]
	if !ok {
		return nil, 0, errors.Precondition(kind, "unknown layer kind, expected one of %v", Kinds())
	}

	rows := make([][]any, 0, len(records))
	skipped := 0
	for i, rec := range records {
		geom, err := parseGeometry(rec.Geom)
		if err != nil {
			log.Debugf("Skipping %s record %d: %v", kind, i, err)
			skipped++
			continue
		}

		id := int64(i + 1)
		if rec.ID != nil {
			id = *rec.ID
		}

		row := make([]any, 0, 2+len(l.attributes))
		if l.id.Type == database.Text {
			row = append(row, strconv.FormatInt(id, 10))
		} else {
			row = append(row, id)
		}
		row = append(row, geom)
		for _, a := range l.attributes {
			row = append(row, a.value(rec))
		}
		rows = append(rows, row)
	}

	return rows, skipped, nil
}

// Load creates table from the parquet file at path and returns the number of
// loaded features.
func Load(ctx context.Context, s database.Store, kind, path, table string) (int, error) {
	if err := database.ValidIdentifier(table); err != nil {
		return 0, err
	}
	columns, err := Columns(kind)
	if err != nil {
		return 0, err
	}

	timeStart := time.Now()

	records, err := ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("unable to load %s: %w", path, err)
	}

	rows, skipped, err := Rows(kind, records)
	if err != nil {
		return 0, err
	}
	if skipped > 0 {
		log.Warnf("Skipped %d records of %s without a valid geometry", skipped, path)
	}

	if err := database.CreateTable(ctx, s, table, columns); err != nil {
		return 0, err
	}
	if err := s.InsertRows(ctx, table, columns, rows); err != nil {
		return 0, err
	}
	if err := database.CreateSpatialIndex(ctx, s, table, "the_geom"); err != nil {
		return 0, err
	}

	log.Infof("Loaded %d %s features from %s into %s in %v", len(rows), kind, path, table, time.Since(timeStart))
	return len(rows), nil
}

func parseGeometry(text *string) (orb.Geometry, error) {
	if text == nil || *text == "" {
		return nil, fmt.Errorf("no geometry")
	}
	return wkt.Unmarshal(*text)
}

func str(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func i32(v *int32) any {
	if v == nil {
		return nil
	}
	return int(*v)
}
