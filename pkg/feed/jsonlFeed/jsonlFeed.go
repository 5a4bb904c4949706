// Package jsonlFeed reads already decoded events and reorg notifications from a JSON lines file.
package jsonlFeed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Layr-Labs/unichain-indexer/pkg/events"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

const maxLineSize = 4 * 1024 * 1024

type JsonlFeed struct {
	scanner *bufio.Scanner
	closer  io.Closer
	logger  *zap.Logger
	line    int
}

func NewJsonlFeed(r io.Reader, l *zap.Logger) *JsonlFeed {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	f := &JsonlFeed{scanner: scanner, logger: l}
	if c, ok := r.(io.Closer); ok {
		f.closer = c
	}
	return f
}

func OpenJsonlFeed(path string, l *zap.Logger) (*JsonlFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open events file %s", path)
	}
	return NewJsonlFeed(file, l), nil
}

type progressReader struct {
	io.Reader
	file *os.File
	bar  *progressbar.ProgressBar
}

func (r *progressReader) Close() error {
	_ = r.bar.Finish()
	fmt.Println()
	return r.file.Close()
}

// OpenJsonlFeedWithProgress is OpenJsonlFeed with a progress bar on stdout tracking bytes read.
func OpenJsonlFeedWithProgress(path string, l *zap.Logger) (*JsonlFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open events file %s", path)
	}
	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}
	bar := progressbar.DefaultBytes(size, fmt.Sprintf("reading %s", filepath.Base(path)))
	return NewJsonlFeed(&progressReader{Reader: io.TeeReader(file, bar), file: file, bar: bar}, l), nil
}

// Next skips blank lines and lines starting with '#'.
func (f *JsonlFeed) Next(ctx context.Context) (*events.FeedItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return nil, errors.Wrap(err, "failed to read events file")
			}
			return nil, io.EOF
		}
		f.line++
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		item := &events.FeedItem{}
		if err := json.Unmarshal([]byte(line), item); err != nil {
			return nil, errors.Wrapf(err, "invalid feed item on line %d", f.line)
		}
		if err := item.Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid feed item on line %d", f.line)
		}
		return item, nil
	}
}

func (f *JsonlFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
