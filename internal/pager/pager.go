// Package pager mediates all file I/O for the storage engine and caches
// pages in memory. It knows nothing about B+-trees or rows; its only job
// is to hide file/offset arithmetic behind an indexable byte buffer.
package pager

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ridgeql/internal/constants"
)

// Page is one resident 4096-byte buffer.
type Page struct {
	Data [constants.PageSize]byte
}

// Pager owns the OS file handle and the fixed-capacity slot array of
// in-memory page buffers.
type Pager struct {
	file       *os.File
	fileLength int64
	numPages   uint32
	pages      [constants.TableMaxPages]*Page
	log        *zap.SugaredLogger
}

// Open opens path read/write, creating it with owner-only permissions if it
// does not exist. It fails if the resulting file length is not an exact
// multiple of the page size.
func Open(path string, log *zap.SugaredLogger) (*Pager, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("pager: open %q: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("pager: stat %q: %w", path, err)
	}

	fileLength := info.Size()
	if fileLength%constants.PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("pager: db file is not a whole number of pages, corrupt file (length=%d)", fileLength)
	}

	p := &Pager{
		file:       file,
		fileLength: fileLength,
		numPages:   uint32(fileLength / constants.PageSize),
		log:        log,
	}
	return p, nil
}

// NumPages reports the page count: the pages persisted in the file plus
// any page allocated past its end by GetPage since Open. Close writes this
// many pages.
func (p *Pager) NumPages() uint32 {
	return p.numPages
}

// GetPage returns the cached buffer for n, reading it from disk on first
// access if it falls within the persisted file, or handing back a
// zero-filled buffer for a newly allocated page. Subsequent calls for the
// same n return the same buffer.
func (p *Pager) GetPage(n uint32) (*Page, error) {
	if n >= constants.TableMaxPages {
		return nil, fmt.Errorf("pager: page %d out of bounds (max %d)", n, constants.TableMaxPages)
	}

	if p.pages[n] == nil {
		page := &Page{}

		persistedPages := uint32(p.fileLength / constants.PageSize)
		if n < persistedPages {
			if _, err := p.file.Seek(int64(n)*constants.PageSize, io.SeekStart); err != nil {
				return nil, fmt.Errorf("pager: seek page %d: %w", n, err)
			}
			if _, err := io.ReadFull(p.file, page.Data[:]); err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				return nil, fmt.Errorf("pager: read page %d: %w", n, err)
			}
			// A short read leaves the remainder of the buffer zero-filled,
			// which is exactly how newly allocated pages are initialized.
		}

		p.pages[n] = page
		if n >= p.numPages {
			p.numPages = n + 1
		}
	}

	return p.pages[n], nil
}

// Flush writes the resident buffer for n back to disk. It is a fatal
// (programmer) error to flush a slot that was never populated.
func (p *Pager) Flush(n uint32) error {
	if p.pages[n] == nil {
		return fmt.Errorf("pager: tried to flush empty page %d", n)
	}

	if _, err := p.file.Seek(int64(n)*constants.PageSize, io.SeekStart); err != nil {
		return fmt.Errorf("pager: seek page %d: %w", n, err)
	}
	if _, err := p.file.Write(p.pages[n].Data[:]); err != nil {
		return fmt.Errorf("pager: write page %d: %w", n, err)
	}
	return nil
}

// Close flushes every resident page (every page is treated as dirty, which
// is correct and simple for a single-writer engine), syncs, and closes the
// file descriptor. Flush failures across different pages are aggregated so
// a caller learns about every failed page, not just the first.
func (p *Pager) Close() error {
	var err error
	for n := uint32(0); n < p.numPages; n++ {
		if p.pages[n] == nil {
			continue
		}
		if ferr := p.Flush(n); ferr != nil {
			p.log.Warnw("failed to flush page on close", "page", n, "error", ferr)
			err = multierr.Append(err, ferr)
		}
		p.pages[n] = nil
	}

	if err != nil {
		p.file.Close()
		return fmt.Errorf("pager: close: %w", err)
	}

	if serr := p.file.Sync(); serr != nil {
		err = multierr.Append(err, fmt.Errorf("pager: sync: %w", serr))
	}
	if cerr := p.file.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("pager: close file: %w", cerr))
	}
	return err
}
