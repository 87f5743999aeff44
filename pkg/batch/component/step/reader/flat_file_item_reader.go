// Package reader provides item readers and the mapping of raw records into typed items.
package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FlatFileOptions configures a [FlatFileItemReader].
type FlatFileOptions struct {
	// Bucket and ObjectName locate the file on the storage connection.
	Bucket     string
	ObjectName string
	// Names are the field names, in column order.
	Names []string
	// Delimiter separates fields. The zero value means ','.
	Delimiter rune
	// LinesToSkip is the number of leading records (usually the header) to ignore.
	LinesToSkip int
	// Strict rejects records whose field count differs from len(Names).
	Strict bool
}

// FlatFileItemReader is an implementation of [port.ItemReader] that reads delimited
// records from an object on a storage connection.
//
// Open streams the object once to check its encoding, so an unreadable file or
// invalid UTF-8 fails the step before any chunk is dispatched. Records are then
// parsed lazily from a second download. Each call to Open starts again from the
// beginning of the file.
type FlatFileItemReader struct {
	conn storage.StorageConnection
	opts FlatFileOptions

	rc  io.ReadCloser
	csv *csv.Reader
}

var _ port.ItemReader[FieldSet] = (*FlatFileItemReader)(nil)

// NewFlatFileItemReader creates a new instance of [FlatFileItemReader].
func NewFlatFileItemReader(conn storage.StorageConnection, opts FlatFileOptions) *FlatFileItemReader {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &FlatFileItemReader{conn: conn, opts: opts}
}

// Open validates the encoding of the object, opens it for reading and skips the
// leading lines.
func (r *FlatFileItemReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	if len(r.opts.Names) == 0 {
		return fmt.Errorf("flat file reader: no field names configured")
	}
	r.closeStream()

	size, err := r.validate(ctx)
	if err != nil {
		return err
	}

	rc, err := r.conn.Download(ctx, r.opts.Bucket, r.opts.ObjectName)
	if err != nil {
		return fmt.Errorf("flat file reader: failed to open '%s': %w", r.opts.ObjectName, err)
	}
	br := bufio.NewReader(rc)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = r.opts.Delimiter
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	if r.opts.Strict {
		cr.FieldsPerRecord = len(r.opts.Names)
	} else {
		cr.FieldsPerRecord = -1
	}
	r.rc, r.csv = rc, cr

	for i := 0; i < r.opts.LinesToSkip; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			r.closeStream()
			return fmt.Errorf("flat file reader: failed to skip line %d of '%s': %w", i+1, r.opts.ObjectName, err)
		}
	}
	logger.Debugf("FlatFileItemReader: opened '%s' (%d bytes, %d lines skipped).", r.opts.ObjectName, size, r.opts.LinesToSkip)
	return nil
}

// validate streams the object once and reports its size. It fails on the first
// byte sequence that is not valid UTF-8.
func (r *FlatFileItemReader) validate(ctx context.Context) (int64, error) {
	rc, err := r.conn.Download(ctx, r.opts.Bucket, r.opts.ObjectName)
	if err != nil {
		return 0, fmt.Errorf("flat file reader: failed to open '%s': %w", r.opts.ObjectName, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			logger.Warnf("FlatFileItemReader: failed to close '%s': %v", r.opts.ObjectName, err)
		}
	}()

	br := bufio.NewReader(rc)
	var size int64
	for {
		ch, n, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return size, nil
		}
		if err != nil {
			return 0, fmt.Errorf("flat file reader: failed to read '%s': %w", r.opts.ObjectName, err)
		}
		// A literal U+FFFD is three bytes long; one byte means an invalid sequence.
		if ch == utf8.RuneError && n == 1 {
			return 0, fmt.Errorf("flat file reader: '%s' is not valid UTF-8 at byte %d", r.opts.ObjectName, size)
		}
		size += int64(n)
	}
}

func (r *FlatFileItemReader) closeStream() {
	if r.rc != nil {
		if err := r.rc.Close(); err != nil {
			logger.Warnf("FlatFileItemReader: failed to close '%s': %v", r.opts.ObjectName, err)
		}
	}
	r.rc, r.csv = nil, nil
}

// Read returns the next record, or io.EOF when the file is exhausted.
// In strict mode a record with the wrong number of fields is returned as an error.
func (r *FlatFileItemReader) Read(ctx context.Context) (FieldSet, error) {
	if r.csv == nil {
		return FieldSet{}, fmt.Errorf("flat file reader: Read called before Open")
	}
	values, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return FieldSet{}, io.EOF
		}
		return FieldSet{}, fmt.Errorf("flat file reader: '%s': %w", r.opts.ObjectName, err)
	}
	line, _ := r.csv.FieldPos(0)
	return newFieldSet(r.opts.Names, values, line), nil
}

// Close releases the underlying stream.
func (r *FlatFileItemReader) Close(ctx context.Context) error {
	r.closeStream()
	return nil
}
