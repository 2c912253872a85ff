// Package dataset stores acquisition records in fixed-capacity, pre-allocated
// SQLite files. Every file holds capacity slot rows created up front with a
// zero timestamp; writers overwrite slots by index and readers skip slots
// whose timestamp is still 0.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Kind string

const (
	KindExposures    Kind = "exposures"
	KindMeasurements Kind = "measurements"
)

var (
	ErrIndexOutOfRange = errors.New("slot index out of range")
	ErrUnknownField    = errors.New("unknown field")
	ErrShape           = errors.New("image shape mismatch")
	ErrClosed          = errors.New("dataset file closed")
)

type exposureRow struct {
	Idx       int `gorm:"primaryKey;autoIncrement:false"`
	Timestamp float64
	Image     []byte
}

func (exposureRow) TableName() string { return string(KindExposures) }

type measurementRow struct {
	Idx         int `gorm:"primaryKey;autoIncrement:false"`
	Timestamp   float64
	Temperature float32
	FieldX      float32
	FieldY      float32
	FieldZ      float32
}

func (measurementRow) TableName() string { return string(KindMeasurements) }

type infoRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (infoRow) TableName() string { return "info" }

var columns = map[Kind]map[string]bool{
	KindExposures:    {"timestamp": true, "image": true},
	KindMeasurements: {"timestamp": true, "temperature": true, "field_x": true, "field_y": true, "field_z": true},
}

// File is one open dataset file. Writes may run concurrently with Close;
// Close waits for writes already in progress.
type File struct {
	Path     string
	Kind     Kind
	Capacity int
	Shape    sensor.Shape
	RunID    string

	mu sync.Mutex
	wg sync.WaitGroup
	db *gorm.DB
}

func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// createFile allocates a new file at path with capacity zero slots. It
// refuses to overwrite an existing file.
func createFile(path string, kind Kind, capacity int, shape sensor.Shape, runID string) (*File, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	db, err := openDB(path)
	if err != nil {
		removeFile(path)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f := &File{Path: path, Kind: kind, Capacity: capacity, Shape: shape, RunID: runID, db: db}

	if err := f.allocate(); err != nil {
		f.Close()
		removeFile(path)
		return nil, fmt.Errorf("allocate %s: %w", path, err)
	}
	return f, nil
}

// removeFile deletes a database file together with its WAL sidecars.
func removeFile(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		os.Remove(p)
	}
}

func (f *File) allocate() error {
	var model any
	var insert string
	switch f.Kind {
	case KindExposures:
		model = &exposureRow{}
		insert = "INSERT INTO exposures (idx, timestamp) SELECT i, 0 FROM seq"
	case KindMeasurements:
		model = &measurementRow{}
		insert = "INSERT INTO measurements (idx, timestamp, temperature, field_x, field_y, field_z) SELECT i, 0, 0, 0, 0, 0 FROM seq"
	default:
		return fmt.Errorf("unknown dataset kind %q", f.Kind)
	}

	if err := f.db.AutoMigrate(model, &infoRow{}); err != nil {
		return err
	}
	return f.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Exec("WITH RECURSIVE seq(i) AS (SELECT 0 UNION ALL SELECT i+1 FROM seq WHERE i+1 < ?) "+insert, f.Capacity).Error
		if err != nil {
			return err
		}
		rows := f.info()
		return tx.Create(&rows).Error
	})
}

func (f *File) info() []infoRow {
	rows := []infoRow{
		{Key: "kind", Value: string(f.Kind)},
		{Key: "capacity", Value: strconv.Itoa(f.Capacity)},
		{Key: "run_id", Value: f.RunID},
		{Key: "created", Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if f.Kind == KindExposures {
		rows = append(rows,
			infoRow{Key: "height", Value: strconv.Itoa(f.Shape.Height)},
			infoRow{Key: "width", Value: strconv.Itoa(f.Shape.Width)},
			infoRow{Key: "channels", Value: strconv.Itoa(f.Shape.Channels)},
		)
	}
	return rows
}

// OpenFile reopens an existing dataset file, restoring its kind, capacity
// and image shape from the info table.
func OpenFile(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f := &File{Path: path, db: db}

	var rows []infoRow
	if err := db.Find(&rows).Error; err != nil {
		f.Close()
		return nil, fmt.Errorf("read info of %s: %w", path, err)
	}
	info := make(map[string]string, len(rows))
	for _, r := range rows {
		info[r.Key] = r.Value
	}
	f.Kind = Kind(info["kind"])
	f.RunID = info["run_id"]
	if _, ok := columns[f.Kind]; !ok {
		f.Close()
		return nil, fmt.Errorf("%s: unknown dataset kind %q", path, f.Kind)
	}
	ints := map[string]*int{"capacity": &f.Capacity}
	if f.Kind == KindExposures {
		ints["height"] = &f.Shape.Height
		ints["width"] = &f.Shape.Width
		ints["channels"] = &f.Shape.Channels
	}
	for key, dst := range ints {
		n, err := strconv.Atoi(info[key])
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: bad %s in info table: %w", path, key, err)
		}
		*dst = n
	}
	return f, nil
}

// acquire pins the handle for one operation. The caller must call release.
func (f *File) acquire() (*gorm.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil, ErrClosed
	}
	f.wg.Add(1)
	return f.db, nil
}

func (f *File) release() { f.wg.Done() }

// Write overwrites the named fields of slot index. Fields not named keep
// their current value, and no other slot is touched.
func (f *File) Write(ctx context.Context, index int, fields map[string]any) error {
	db, err := f.acquire()
	if err != nil {
		return err
	}
	defer f.release()

	if index < 0 || index >= f.Capacity {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, f.Capacity)
	}
	for name, v := range fields {
		if !columns[f.Kind][name] {
			return fmt.Errorf("%w: %q in %s", ErrUnknownField, name, f.Kind)
		}
		if name == "image" {
			pix, ok := v.([]byte)
			if !ok || len(pix) != f.Shape.Size() {
				return fmt.Errorf("%w: want %d bytes", ErrShape, f.Shape.Size())
			}
		}
	}

	err = db.WithContext(ctx).Table(string(f.Kind)).Where("idx = ?", index).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("write %s slot %d: %w", f.Kind, index, err)
	}
	return nil
}

// Written counts the slots holding a record.
func (f *File) Written(ctx context.Context) (int, error) {
	db, err := f.acquire()
	if err != nil {
		return 0, err
	}
	defer f.release()

	var n int64
	err = db.WithContext(ctx).Table(string(f.Kind)).Where("timestamp > 0").Count(&n).Error
	return int(n), err
}

func (f *File) readRow(ctx context.Context, index int, kind Kind, dest any) error {
	if f.Kind != kind {
		return fmt.Errorf("%s is a %s file", f.Path, f.Kind)
	}
	db, err := f.acquire()
	if err != nil {
		return err
	}
	defer f.release()

	if index < 0 || index >= f.Capacity {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, f.Capacity)
	}
	return db.WithContext(ctx).Where("idx = ?", index).Take(dest).Error
}

// ReadMeasurement returns slot index. An unwritten slot has a zero Timestamp.
func (f *File) ReadMeasurement(ctx context.Context, index int) (sensor.Measurement, error) {
	var row measurementRow
	if err := f.readRow(ctx, index, KindMeasurements, &row); err != nil {
		return sensor.Measurement{}, err
	}
	return sensor.Measurement{
		Timestamp:   fromEpoch(row.Timestamp),
		Temperature: row.Temperature,
		Field:       sensor.Vector{row.FieldX, row.FieldY, row.FieldZ},
	}, nil
}

// ReadExposure returns slot index. A slot without image data reads as a
// zeroed image of the file's shape.
func (f *File) ReadExposure(ctx context.Context, index int) (sensor.Exposure, error) {
	var row exposureRow
	if err := f.readRow(ctx, index, KindExposures, &row); err != nil {
		return sensor.Exposure{}, err
	}
	img := sensor.ZeroImage(f.Shape)
	if row.Image != nil {
		img.Pix = row.Image
	}
	return sensor.Exposure{Timestamp: fromEpoch(row.Timestamp), Image: img}, nil
}

// Close waits for in-flight writes and releases the file. Further writes
// fail with ErrClosed.
func (f *File) Close() error {
	f.mu.Lock()
	db := f.db
	f.db = nil
	f.mu.Unlock()
	if db == nil {
		return nil
	}
	f.wg.Wait()

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEpoch(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// fromEpoch maps the 0 sentinel back to the zero time.
func fromEpoch(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
