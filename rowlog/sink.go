package rowlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// TimestampFormat is the row timestamp layout, microsecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000000"

// Row is one logged sample: a timestamp and one value per register.
type Row struct {
	Time   time.Time
	Values []float64
}

// A Sink persists rows. Write must not return until the row is durable as far
// as the sink can make it.
type Sink interface {
	// Header is called once before the first row with register names and
	// their display labels, in column order.
	Header(names, labels []string) error
	Write(row Row) error
	Close() error
}

type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateCSV truncates or creates path, making parent directories as needed.
func CreateCSV(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewCSVSink(f), nil
}

func (s *CSVSink) flush() error {
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Header(names, labels []string) error {
	if err := s.w.Write(append([]string{"Timestamp"}, labels...)); err != nil {
		return err
	}
	return s.flush()
}

func (s *CSVSink) Write(row Row) error {
	record := make([]string, 0, len(row.Values)+1)
	record = append(record, row.Time.Format(TimestampFormat))
	for _, v := range row.Values {
		record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
	}
	if err := s.w.Write(record); err != nil {
		return err
	}
	return s.flush()
}

func (s *CSVSink) Close() error {
	err := s.flush()
	if s.closer != nil {
		err = multierr.Append(err, s.closer.Close())
	}
	return err
}

// MultiSink writes every row to each of its sinks in turn.
type MultiSink []Sink

func (m MultiSink) Header(names, labels []string) error {
	for i, s := range m {
		if err := s.Header(names, labels); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func (m MultiSink) Write(row Row) error {
	for i, s := range m {
		if err := s.Write(row); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
