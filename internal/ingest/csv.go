package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// streamCSV reads r and sends trimmed records to the returned channel.
// Both channels are closed when reading completes; at most one error is sent.
func streamCSV(ctx context.Context, r io.Reader, delimiter rune) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if delimiter != 0 {
			reader.Comma = delimiter
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV parses a header-mapped CSV bid file.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) (*Batch, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errc := streamCSV(ctx, r, 0)
	batch, err := collect(cancel, rows, errc, opts)
	if err != nil {
		return nil, eris.Wrap(err, "csv")
	}
	return batch, nil
}

// collect drains a row stream into a batch. A bad header stops the producer
// early; otherwise the producer's error, if any, takes precedence.
func collect(cancel context.CancelFunc, rows <-chan []string, errc <-chan error, opts Options) (*Batch, error) {
	batch, early, rowErr := readRows(rows, opts)
	if early {
		cancel()
		for range rows {
		}
		<-errc
		return nil, rowErr
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	if rowErr != nil {
		return nil, rowErr
	}
	batch.sortRejections()
	return batch, nil
}

// readRows consumes a header row followed by data rows. early reports that it
// returned before the stream was exhausted.
func readRows(rows <-chan []string, opts Options) (batch *Batch, early bool, err error) {
	batch = &Batch{}
	var cols columnMap
	pos := 0
	for row := range rows {
		if cols == nil {
			if blankRow(row) {
				continue
			}
			if cols, err = mapHeader(row); err != nil {
				return nil, true, err
			}
			continue
		}
		if blankRow(row) {
			continue
		}
		pos++
		it, itemErr := cols.item(row, pos, opts)
		if itemErr != nil {
			batch.reject(it.SubmissionID, it.LineNumber, itemErr.Error())
			continue
		}
		batch.Items = append(batch.Items, it)
	}
	if cols == nil {
		return nil, false, eris.New("ingest: missing header row")
	}
	return batch, false, nil
}
